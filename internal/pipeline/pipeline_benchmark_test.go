package pipeline

import (
	"context"
	"testing"
)

func BenchmarkNormalize(b *testing.B) {
	source := buildTestPNG(b, 1920, 1080)
	normalizer := newTestNormalizer(b, 512)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := normalizer.Normalize(context.Background(), source); err != nil {
			b.Fatalf("normalize: %v", err)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	normalizer := newTestNormalizer(b, 512)
	batch, err := normalizer.Normalize(context.Background(), buildTestPNG(b, 1920, 1080))
	if err != nil {
		b.Fatalf("normalize: %v", err)
	}
	encoder := NewEncoder(0)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := encoder.Encode(batch); err != nil {
			b.Fatalf("encode: %v", err)
		}
	}
}
