package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Encoder writes JPEGs down a quality ladder until the output fits MaxBytes.
type Encoder struct {
	MaxBytes     int
	StartQuality int
	QualityStep  int
	MinQuality   int
}

// Encoded is one ladder outcome. Flagged is set when even MinQuality missed
// MaxBytes; Data then holds the MinQuality encoding.
type Encoded struct {
	Data    []byte
	Quality int
	Flagged bool
}

// Validate checks the ladder bounds.
func (e Encoder) Validate() error {
	switch {
	case e.MaxBytes <= 0:
		return fmt.Errorf("max bytes must be positive")
	case e.StartQuality < 1 || e.StartQuality > 100:
		return fmt.Errorf("start quality %d out of range", e.StartQuality)
	case e.MinQuality < 1 || e.MinQuality > e.StartQuality:
		return fmt.Errorf("min quality %d must be between 1 and start quality %d", e.MinQuality, e.StartQuality)
	case e.QualityStep <= 0:
		return fmt.Errorf("quality step must be positive")
	}
	return nil
}

// Ladder lists the qualities tried, highest first, always ending at MinQuality.
func (e Encoder) Ladder() []int {
	var steps []int
	for q := e.StartQuality; q > e.MinQuality; q -= e.QualityStep {
		steps = append(steps, q)
	}
	return append(steps, e.MinQuality)
}

// Encode returns the first ladder step whose output is within MaxBytes.
func (e Encoder) Encode(img image.Image) (Encoded, error) {
	var buf bytes.Buffer
	var last Encoded
	for _, q := range e.Ladder() {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg at quality %d: %w", q, err)
		}
		last = Encoded{Data: bytes.Clone(buf.Bytes()), Quality: q}
		if buf.Len() <= e.MaxBytes {
			return last, nil
		}
	}
	last.Flagged = true
	return last, nil
}
