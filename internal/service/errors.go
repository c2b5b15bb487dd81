package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSurvey    = errors.New("unknown survey")
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrInvalidParam     = errors.New("invalid parameter")
	ErrDatasetNotFound  = errors.New("dataset not found")
)

// ParamError reports a query parameter value outside its allowed options.
type ParamError struct {
	Param   string
	Value   string
	Options []string
}

func (e *ParamError) Error() string {
	if len(e.Options) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Param, e.Value)
	}
	return fmt.Sprintf("invalid %s %q. Choose from: %s", e.Param, e.Value, strings.Join(e.Options, ", "))
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidParam
}
