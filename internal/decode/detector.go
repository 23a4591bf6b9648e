package decode

import (
	"github.com/saintfish/chardet"
)

// Detector guesses the encoding of raw bytes. Confidence is in [0,1].
type Detector interface {
	Detect(raw []byte) (label string, confidence float64, ok bool)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(raw []byte) (string, float64, bool)

func (f DetectorFunc) Detect(raw []byte) (string, float64, bool) { return f(raw) }

// maxDetectBytes bounds the sample handed to the statistical detector.
const maxDetectBytes = 64 * 1024

// ChardetDetector uses the ICU-derived statistical detector and ignores markup.
type ChardetDetector struct{}

func (ChardetDetector) Detect(raw []byte) (string, float64, bool) {
	if len(raw) > maxDetectBytes {
		raw = raw[:maxDetectBytes]
	}
	res, err := chardet.NewHtmlDetector().DetectBest(raw)
	if err != nil || res == nil || res.Charset == "" {
		return "", 0, false
	}
	return res.Charset, float64(res.Confidence) / 100, true
}

var defaultDetector Detector = ChardetDetector{}
