// Package config loads and validates job configuration files and the runtime
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
	"gonum.org/v1/gonum/mat"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/collapse"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/filter"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/reader/psm"
)

// Runtime holds settings taken from the environment.
type Runtime struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `split_words:"true" default:"info"`

	// DevMode switches to human readable console logs at debug level.
	DevMode bool `split_words:"true"`

	// Threads limits the number of experiments processed at once. Zero means
	// one per CPU.
	Threads int `default:"0"`
}

// ParseRuntime reads the CONSTANDPP_* environment variables.
func ParseRuntime() (*Runtime, error) {
	var rt Runtime
	if err := envconfig.Process("constandpp", &rt); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &rt, nil
}

// Job is the configuration of one analysis job, combining one or more
// experiments.
type Job struct {
	Name   string `yaml:"name" validate:"required"`
	Output string `yaml:"output" validate:"required"`

	// Conditions lists the condition names; the first two are compared.
	Conditions []string `yaml:"conditions" validate:"required,min=1,unique,dive,required"`

	Alpha         float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	FoldThreshold float64 `yaml:"foldThreshold" validate:"gte=1"`
	FoldChange    string  `yaml:"foldChange" validate:"caseinsensitiveoneof=mean median"`
	PCAComponents int     `yaml:"pcaComponents" validate:"gte=1"`

	Experiments []Experiment `yaml:"experiments" validate:"required,min=1,unique=Name,dive"`
}

// Experiment configures the processing of one input file.
type Experiment struct {
	Name          string `yaml:"name" validate:"required"`
	Data          string `yaml:"data" validate:"required"`
	Delimiter     string `yaml:"delimiter" validate:"omitempty,len=1"`
	Modifications string `yaml:"modifications"` // CSV of extra modification masses

	// Channels lists the reporter intensity headers in channel order.
	Channels []string `yaml:"channels" validate:"required,min=2,unique"`
	// Conditions maps condition names to channel headers.
	Conditions map[string][]string `yaml:"conditions" validate:"required,min=1"`

	IsotopicCorrection [][]float64 `yaml:"isotopicCorrection"`
	Normalization      string      `yaml:"normalization" validate:"omitempty,caseinsensitiveoneof=none relative"`

	Filters  Filters  `yaml:"filters"`
	Collapse Collapse `yaml:"collapse"`
}

// Filters configures the pre-filters.
type Filters struct {
	EssentialColumns         []string `yaml:"essentialColumns"`
	MinConfidence            string   `yaml:"minConfidence" validate:"omitempty,oneof=Low Medium High"`
	MaxIsolationInterference *float64 `yaml:"maxIsolationInterference" validate:"omitempty,gt=0,lt=100"`
}

// Collapse configures the collapse stages.
type Collapse struct {
	MasterAlgorithm     string   `yaml:"masterAlgorithm"`
	Exclusive           bool     `yaml:"exclusive"`
	PSM                 *bool    `yaml:"psm"`
	RT                  *bool    `yaml:"rt"`
	Charge              *bool    `yaml:"charge"`
	PTM                 *bool    `yaml:"ptm"`
	Policy              string   `yaml:"policy"`
	TieBreak            string   `yaml:"tieBreak"`
	MaxRelativeVariance *float64 `yaml:"maxRelativeVariance"`
	ColumnsToSave       []string `yaml:"columnsToSave"`
}

// Defaults applied to fields left out of a job file.
const (
	DefaultAlpha           = 0.05
	DefaultFoldThreshold   = 1
	DefaultFoldChange      = "mean"
	DefaultPCAComponents   = 2
	DefaultMasterAlgorithm = "mascot"
	DefaultPolicy          = "mean"
)

var defaultColumnsToSave = []string{
	string(core.ColumnAlgorithm),
	string(core.ColumnFirstScan),
	string(core.ColumnRetentionTime),
	string(core.ColumnIonsScore),
	string(core.ColumnXCorr),
}

// Load reads, defaults and validates a job file. Relative paths in the file
// are resolved against its directory.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	job.Output = resolve(job.Output)
	for i := range job.Experiments {
		job.Experiments[i].Data = resolve(job.Experiments[i].Data)
		job.Experiments[i].Modifications = resolve(job.Experiments[i].Modifications)
	}
	return job, nil
}

// Parse decodes a job from YAML, applies defaults and validates it.
func Parse(data []byte) (*Job, error) {
	job := Job{
		Alpha:         DefaultAlpha,
		FoldThreshold: DefaultFoldThreshold,
		FoldChange:    DefaultFoldChange,
		PCAComponents: DefaultPCAComponents,
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	for i := range job.Experiments {
		job.Experiments[i].applyDefaults()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (e *Experiment) applyDefaults() {
	c := &e.Collapse
	if c.MasterAlgorithm == "" {
		c.MasterAlgorithm = DefaultMasterAlgorithm
	}
	if c.Policy == "" {
		c.Policy = DefaultPolicy
	}
	enabled, disabled := true, false
	for _, flag := range []**bool{&c.PSM, &c.RT, &c.Charge} {
		if *flag == nil {
			*flag = lo.ToPtr(enabled)
		}
	}
	if c.PTM == nil {
		c.PTM = lo.ToPtr(disabled)
	}
	if c.ColumnsToSave == nil {
		c.ColumnsToSave = append([]string(nil), defaultColumnsToSave...)
	}
}

// Validate checks struct tags first and then every cross-field rule,
// returning the first problem as a *core.ConfigError.
func (j *Job) Validate() error {
	if err := newValidator().Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &core.ConfigError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Job."),
				Message: fmt.Sprintf("failed on '%s' rule", fe.Tag()),
			}
		}
		return &core.ConfigError{Field: "job", Message: err.Error()}
	}

	for _, e := range j.Experiments {
		if _, err := e.CollapseConfig(); err != nil {
			return prefixed(e.Name, err)
		}
		if _, err := e.FilterConfig(); err != nil {
			return prefixed(e.Name, err)
		}
		if _, err := e.ConditionChannels(j.Conditions); err != nil {
			return prefixed(e.Name, err)
		}
		if _, err := e.CorrectionMatrix(); err != nil {
			return prefixed(e.Name, err)
		}
	}
	return nil
}

// CollapseConfig converts the collapse section.
func (e *Experiment) CollapseConfig() (collapse.Config, error) {
	c := e.Collapse
	master, err := core.ParseAlgorithm(c.MasterAlgorithm)
	if err != nil {
		return collapse.Config{}, &core.ConfigError{Field: "collapse.masterAlgorithm", Message: err.Error()}
	}
	policy, err := collapse.ParsePolicy(c.Policy)
	if err != nil {
		return collapse.Config{}, err
	}
	tieBreak, err := collapse.ParseTieBreak(c.TieBreak)
	if err != nil {
		return collapse.Config{}, err
	}
	columns, err := parseColumns("collapse.columnsToSave", c.ColumnsToSave)
	if err != nil {
		return collapse.Config{}, err
	}

	cfg := collapse.Config{
		MasterAlgorithm:     master,
		Exclusive:           c.Exclusive,
		EnablePSM:           lo.FromPtrOr(c.PSM, true),
		EnableRT:            lo.FromPtrOr(c.RT, true),
		EnableCharge:        lo.FromPtrOr(c.Charge, true),
		EnablePTM:           lo.FromPtrOr(c.PTM, false),
		Policy:              policy,
		TieBreak:            tieBreak,
		MaxRelativeVariance: null.FloatFromPtr(c.MaxRelativeVariance),
		ColumnsToSave:       columns,
	}
	if err := cfg.Validate(); err != nil {
		return collapse.Config{}, err
	}
	return cfg, nil
}

// FilterConfig converts the filters section.
func (e *Experiment) FilterConfig() (filter.Config, error) {
	essential, err := parseColumns("filters.essentialColumns", e.Filters.EssentialColumns)
	if err != nil {
		return filter.Config{}, err
	}
	toSave, err := parseColumns("collapse.columnsToSave", e.Collapse.ColumnsToSave)
	if err != nil {
		return filter.Config{}, err
	}
	cfg := filter.Config{
		EssentialColumns:         essential,
		MinConfidence:            e.Filters.MinConfidence,
		MaxIsolationInterference: null.FloatFromPtr(e.Filters.MaxIsolationInterference),
		ColumnsToSave:            toSave,
	}
	return cfg, cfg.Validate()
}

// ConditionChannels resolves the condition section to channel indices in the
// order of the job's condition list. Every channel belongs to at most one
// condition.
func (e *Experiment) ConditionChannels(order []string) ([]protein.Condition, error) {
	index := make(map[string]int, len(e.Channels))
	for i, ch := range e.Channels {
		index[ch] = i
	}
	for name := range e.Conditions {
		if !lo.Contains(order, name) {
			return nil, &core.ConfigError{Field: "conditions", Message: fmt.Sprintf("condition '%s' is not declared by the job", name)}
		}
	}

	used := make(map[string]string)
	out := make([]protein.Condition, 0, len(order))
	for _, name := range order {
		cond := protein.Condition{Name: name}
		for _, ch := range e.Conditions[name] {
			i, ok := index[ch]
			if !ok {
				return nil, &core.ConfigError{Field: "conditions", Message: fmt.Sprintf("condition '%s' uses unknown channel '%s'", name, ch)}
			}
			if prev, dup := used[ch]; dup {
				return nil, &core.ConfigError{Field: "conditions", Message: fmt.Sprintf("channel '%s' is in conditions '%s' and '%s'", ch, prev, name)}
			}
			used[ch] = name
			cond.Channels = append(cond.Channels, i)
		}
		out = append(out, cond)
	}
	return out, nil
}

// CorrectionMatrix returns the isotopic correction matrix, or nil when none
// is configured.
func (e *Experiment) CorrectionMatrix() (*mat.Dense, error) {
	if len(e.IsotopicCorrection) == 0 {
		return nil, nil
	}
	n := len(e.Channels)
	if len(e.IsotopicCorrection) != n {
		return nil, &core.ConfigError{
			Field:   "isotopicCorrection",
			Message: fmt.Sprintf("matrix must be %dx%d, got %d rows", n, n, len(e.IsotopicCorrection)),
		}
	}
	m := mat.NewDense(n, n, nil)
	for i, row := range e.IsotopicCorrection {
		if len(row) != n {
			return nil, &core.ConfigError{
				Field:   "isotopicCorrection",
				Message: fmt.Sprintf("matrix must be %dx%d, row %d has %d values", n, n, i+1, len(row)),
			}
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// ReaderOptions returns the importer settings. modDB may be nil.
func (e *Experiment) ReaderOptions(modDB *core.ModDatabase) psm.Options {
	opts := psm.Options{ChannelColumns: e.Channels, ModDB: modDB}
	if e.Delimiter != "" {
		opts.Delimiter = []rune(e.Delimiter)[0]
	}
	return opts
}

// ModDatabase returns the default modification database extended with the
// experiment's modification file, if any.
func (e *Experiment) ModDatabase() (*core.ModDatabase, error) {
	db := core.DefaultModDatabase()
	if e.Modifications == "" {
		return db, nil
	}
	f, err := os.Open(e.Modifications)
	if err != nil {
		return nil, fmt.Errorf("open modifications: %w", err)
	}
	defer f.Close()
	if err := db.LoadFromCSV(f); err != nil {
		return nil, fmt.Errorf("load modifications: %w", err)
	}
	return db, nil
}

func parseColumns(field string, names []string) ([]core.Column, error) {
	out := make([]core.Column, 0, len(names))
	for _, name := range names {
		c, err := core.ParseColumn(name)
		if err != nil {
			return nil, &core.ConfigError{Field: field, Message: err.Error()}
		}
		out = append(out, c)
	}
	return out, nil
}

func prefixed(experiment string, err error) error {
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) {
		return &core.ConfigError{
			Field:   fmt.Sprintf("experiments[%s].%s", experiment, cfgErr.Field),
			Message: cfgErr.Message,
		}
	}
	return fmt.Errorf("experiment %s: %w", experiment, err)
}
