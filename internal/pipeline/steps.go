package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/inference"
	"github.com/dvloznov/receipt-ledger/internal/parser"
)

// FileStep is one stage in the processing of a single receipt photo.
type FileStep interface {
	Stage() domain.Stage
	Execute(ctx context.Context, state *FileState) error
}

// FileState holds the shared state across the steps of one photo.
type FileState struct {
	Week    domain.WeekID
	Image   imagesource.Image
	Bytes   []byte
	RawText string
	Record  domain.Record
}

// StepError records which stage a photo failed in.
type StepError struct {
	Stage domain.Stage
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step 1: FetchImageStep reads the photo bytes from the image source.
type FetchImageStep struct {
	Source imagesource.Source
}

func (s *FetchImageStep) Stage() domain.Stage { return domain.StageFetch }

func (s *FetchImageStep) Execute(ctx context.Context, state *FileState) error {
	data, err := s.Source.Read(ctx, state.Image)
	if err != nil {
		return err
	}
	state.Bytes = data
	return nil
}

// Step 2: InferStep sends the photo to the model.
type InferStep struct {
	Analyzer inference.Analyzer
}

func (s *InferStep) Stage() domain.Stage { return domain.StageInfer }

func (s *InferStep) Execute(ctx context.Context, state *FileState) error {
	text, err := s.Analyzer.Analyze(ctx, state.Bytes, imagesource.MIMEType(state.Image.Name))
	if err != nil {
		return err
	}
	state.RawText = text
	return nil
}

// Step 3: ParseStep turns the reply into a record.
type ParseStep struct{}

func (s *ParseStep) Stage() domain.Stage { return domain.StageParse }

func (s *ParseStep) Execute(ctx context.Context, state *FileState) error {
	rec, err := parser.Parse(state.RawText, state.Image.Name)
	if err != nil {
		return err
	}
	state.Record = rec
	return nil
}

// Step 4: AppendStep adds the record to the week ledger.
type AppendStep struct {
	Ledger LedgerStore
}

func (s *AppendStep) Stage() domain.Stage { return domain.StageAppend }

func (s *AppendStep) Execute(ctx context.Context, state *FileState) error {
	return s.Ledger.Append(ctx, state.Week, state.Record)
}

// FilePipeline executes a sequence of steps in order, stopping at the first failure.
type FilePipeline struct {
	steps []FileStep
}

// NewFilePipeline creates a new pipeline with the given steps.
func NewFilePipeline(steps ...FileStep) *FilePipeline {
	return &FilePipeline{steps: steps}
}

// Execute runs all steps sequentially. A failure comes back as a *StepError.
func (p *FilePipeline) Execute(ctx context.Context, state *FileState) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return &StepError{Stage: step.Stage(), Err: err}
		}
	}
	return nil
}

// NewReceiptPipeline creates the standard Fetch, Infer, Parse, Append chain.
func NewReceiptPipeline(source imagesource.Source, analyzer inference.Analyzer, ledger LedgerStore) *FilePipeline {
	return NewFilePipeline(
		&FetchImageStep{Source: source},
		&InferStep{Analyzer: analyzer},
		&ParseStep{},
		&AppendStep{Ledger: ledger},
	)
}
