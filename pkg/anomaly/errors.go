package anomaly

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when training is attempted on zero events.
	ErrEmptyBatch = errors.New("anomaly: empty training batch")

	// ErrNotTrained is returned by Predict and DetectAnomalies before a
	// successful Train or Load.
	ErrNotTrained = errors.New("anomaly: model not trained")

	// ErrInvalidContamination is returned by New for contamination outside (0, 1).
	ErrInvalidContamination = errors.New("anomaly: contamination must be in (0, 1)")
)

// PersistenceError reports a failure reading or writing a model blob.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("anomaly: %s model: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("anomaly: %s model %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
