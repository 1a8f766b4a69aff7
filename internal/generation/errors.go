package generation

import "fmt"

// AnalysisParseError means the analysis backend answered but the answer
// could not be read as creature attributes. Callers treat it as untrustworthy
// output rather than a missing one.
type AnalysisParseError struct {
	Reason string
	Raw    string
}

func (e *AnalysisParseError) Error() string {
	return "analysis response unusable: " + e.Reason
}

// ImageSynthesisError wraps any failure to produce a sprite. It is never
// fatal; the creature keeps its default art.
type ImageSynthesisError struct {
	Err error
}

func (e *ImageSynthesisError) Error() string {
	return fmt.Sprintf("image synthesis failed: %v", e.Err)
}

func (e *ImageSynthesisError) Unwrap() error { return e.Err }
