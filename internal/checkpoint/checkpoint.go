// Package checkpoint persists a model's parameters next to the
// hyperparameters it was built from.
//
// A checkpoint directory holds hparams.yaml and one <param>.bin per
// parameter in gonum's binary matrix encoding.
package checkpoint

import (
	"os"
	"path/filepath"

	"forge-adapter/internal/config"
	"forge-adapter/internal/model"
	"forge-adapter/internal/nn"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the hyperparameter record in a checkpoint.
const ManifestFile = "hparams.yaml"

type manifest struct {
	HParams map[string]any `yaml:"hparams"`
	Step    int            `yaml:"step"`
	Params  []paramEntry   `yaml:"params"`
}

type paramEntry struct {
	Name string `yaml:"name"`
	Rows int    `yaml:"rows"`
	Cols int    `yaml:"cols"`
	File string `yaml:"file"`
}

// Save writes hp and the parameters of m into dir, creating it if needed.
// It returns the number of bytes written.
func Save(dir string, hp config.HParams, m model.Model, step int) (int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create checkpoint dir")
	}
	man := manifest{HParams: hp.Map(), Step: step}
	var written int64
	for _, p := range m.Parameters() {
		raw, err := p.Value.MarshalBinary()
		if err != nil {
			return written, errors.Wrapf(err, "encode %s", p.Name)
		}
		file := p.Name + ".bin"
		if err := os.WriteFile(filepath.Join(dir, file), raw, 0o644); err != nil {
			return written, errors.Wrapf(err, "write %s", p.Name)
		}
		written += int64(len(raw))
		r, c := p.Value.Dims()
		man.Params = append(man.Params, paramEntry{Name: p.Name, Rows: r, Cols: c, File: file})
	}

	raw, err := yaml.Marshal(&man)
	if err != nil {
		return written, errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		return written, errors.Wrap(err, "write manifest")
	}
	return written + int64(len(raw)), nil
}

// LoadHParams reads the hyperparameters and step count of the checkpoint in
// dir.
func LoadHParams(dir string) (config.HParams, int, error) {
	man, err := readManifest(dir)
	if err != nil {
		return config.HParams{}, 0, err
	}
	hp, err := config.ParseHParams(man.HParams)
	if err != nil {
		return config.HParams{}, 0, err
	}
	return hp, man.Step, nil
}

// Load copies the parameters stored in dir into m. Every parameter of m must
// be present with a matching shape.
func Load(dir string, m model.Model) error {
	man, err := readManifest(dir)
	if err != nil {
		return err
	}
	entries := make(map[string]paramEntry, len(man.Params))
	for _, e := range man.Params {
		entries[e.Name] = e
	}
	for _, p := range m.Parameters() {
		e, ok := entries[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no parameter %q", p.Name)
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.File))
		if err != nil {
			return errors.Wrapf(err, "read %s", p.Name)
		}
		var v mat.Dense
		if err := v.UnmarshalBinary(raw); err != nil {
			return errors.Wrapf(err, "decode %s", p.Name)
		}
		wr, wc := p.Value.Dims()
		gr, gc := v.Dims()
		if wr != gr || wc != gc {
			return errors.Wrapf(nn.ErrShapeMismatch, "%s: checkpoint %dx%d, model %dx%d", p.Name, gr, gc, wr, wc)
		}
		p.Value.Copy(&v)
	}
	return nil
}

func readManifest(dir string) (*manifest, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "open manifest")
	}
	defer f.Close()
	man := &manifest{}
	if err := yaml.NewDecoder(f).Decode(man); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return man, nil
}
