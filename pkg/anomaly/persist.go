package anomaly

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/detectors/iforest"
	"github.com/hed1ad/netguard/pkg/features"
	"github.com/hed1ad/netguard/pkg/preprocessing"
)

// ModelFile is the file name of the persisted model inside a models directory.
const ModelFile = "anomaly_detector_v1.gob"

// ModelPath returns the conventional location of the model in modelsDir.
func ModelPath(modelsDir string) string {
	return filepath.Join(modelsDir, ModelFile)
}

// blob is the persisted form of a trained model.
type blob struct {
	Forest        []byte
	Scaler        preprocessing.StandardScaler
	FeatureNames  []string
	Trained       bool
	TrainingDate  time.Time
	Version       string
	Contamination float64
	Seed          int64
}

// Save writes the trained model to w as a single gob blob.
func (m *Model) Save(w io.Writer) error {
	if err := m.save(w); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func (m *Model) save(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return ErrNotTrained
	}

	forest, err := m.forest.Save()
	if err != nil {
		return fmt.Errorf("encode forest: %w", err)
	}

	return gob.NewEncoder(w).Encode(blob{
		Forest:        forest,
		Scaler:        *m.scaler,
		FeatureNames:  m.featureNames,
		Trained:       m.trained,
		TrainingDate:  m.trainingDate,
		Version:       m.version,
		Contamination: m.contamination,
		Seed:          m.seed,
	})
}

// SaveFile writes the model to path atomically: the blob is written to a
// temporary file in the same directory and renamed over path.
func (m *Model) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := m.save(&buf); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}

	m.logger.Info("model saved", zap.String("path", path))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Load reads a model written by Save. The returned model is trained and ready
// for inference.
func Load(r io.Reader, opts ...Option) (*Model, error) {
	m, err := load(r, opts...)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	return m, nil
}

// LoadFile reads a model written by SaveFile. Options such as WithLogger
// apply to the returned model; contamination and seed come from the blob.
func LoadFile(path string, opts ...Option) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	m, err := load(f, opts...)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}

	m.logger.Info("model loaded", zap.String("path", path), zap.String("version", m.version))
	return m, nil
}

func load(r io.Reader, opts ...Option) (*Model, error) {
	var b blob
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if !b.Trained {
		return nil, errors.New("blob holds an untrained model")
	}
	want := features.Names()
	if !slices.Equal(b.FeatureNames, want) {
		return nil, fmt.Errorf("feature contract mismatch: model has %v, extractor produces %v", b.FeatureNames, want)
	}
	if b.Scaler.NFeatures() != len(want) {
		return nil, fmt.Errorf("scaler fitted on %d features, expected %d", b.Scaler.NFeatures(), len(want))
	}

	forest := iforest.New()
	if err := forest.Load(b.Forest); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}

	opts = append(opts, WithContamination(b.Contamination), WithSeed(b.Seed))
	m, err := New(opts...)
	if err != nil {
		return nil, err
	}

	scaler := b.Scaler
	m.scaler = &scaler
	m.forest = forest
	m.featureNames = b.FeatureNames
	m.trained = true
	m.trainingDate = b.TrainingDate
	m.version = b.Version

	return m, nil
}
