// Package pipeline executes the dependency-ordered stage graph of one
// interview. Stages run strictly in declaration order; each consumes the
// outputs of its declared dependencies and produces one output. Interactive
// stages post their question to the session broker and block for the
// patient's answer.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/anamnesis/internal/broker"
	"github.com/ashureev/anamnesis/internal/invoke"
)

// Stage is one named unit of the interview pipeline.
type Stage struct {
	// Name identifies the stage and its output.
	Name string
	// Role selects the external collaborator that resolves this stage.
	Role string
	// DependsOn lists earlier stages whose outputs feed this one, in the
	// order they are concatenated into the prompt.
	DependsOn []string
	// Instructions is the stage's fixed instruction payload.
	Instructions string
	// Interactive stages ask the patient instead of producing output
	// directly: the collaborator generates the question, the answer
	// becomes the stage output.
	Interactive bool
}

// CollaboratorFunc runs one collaborator call for a stage prompt.
type CollaboratorFunc func(ctx context.Context, prompt string) (string, error)

// Hooks let the caller observe stage progress. Nil fields are skipped.
type Hooks struct {
	OnStageStart     func(stage Stage)
	OnQuestionPosted func(stage Stage, question string)
	OnAnswer         func(stage Stage, question, answer string)
	OnStageDone      func(stage Stage, output string)
}

func (h Hooks) stageStart(s Stage) {
	if h.OnStageStart != nil {
		h.OnStageStart(s)
	}
}

func (h Hooks) questionPosted(s Stage, q string) {
	if h.OnQuestionPosted != nil {
		h.OnQuestionPosted(s, q)
	}
}

func (h Hooks) answer(s Stage, q, a string) {
	if h.OnAnswer != nil {
		h.OnAnswer(s, q, a)
	}
}

func (h Hooks) stageDone(s Stage, out string) {
	if h.OnStageDone != nil {
		h.OnStageDone(s, out)
	}
}

// Result is a finished pipeline run.
type Result struct {
	// Outputs maps stage name to its produced output.
	Outputs map[string]string
	// Final is the last stage's output, the pipeline artifact.
	Final string
	// Turns counts completed question/answer exchanges.
	Turns int
}

// Pipeline is a validated, executable stage graph bound to one session's
// broker.
type Pipeline struct {
	stages    []Stage
	resolvers map[string]CollaboratorFunc
	invoker   *invoke.Invoker
	broker    *broker.Broker
}

// New validates the stage graph and binds it to its collaborators and
// broker. Every dependency must name an earlier stage, so the declared
// order is always consistent with the dependency graph and cycles cannot
// be expressed.
func New(stages []Stage, resolvers map[string]CollaboratorFunc, invoker *invoke.Invoker, b *broker.Broker) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline: no stages defined")
	}
	if invoker == nil {
		return nil, fmt.Errorf("pipeline: invoker is required")
	}
	if b == nil {
		return nil, fmt.Errorf("pipeline: broker is required")
	}

	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("pipeline: stage with empty name")
		}
		if seen[stage.Name] {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", stage.Name)
		}
		if _, ok := resolvers[stage.Role]; !ok {
			return nil, fmt.Errorf("pipeline: stage %q has no collaborator for role %q", stage.Name, stage.Role)
		}
		for _, dep := range stage.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("pipeline: stage %q depends on %q, which is not an earlier stage", stage.Name, dep)
			}
		}
		seen[stage.Name] = true
	}

	return &Pipeline{
		stages:    stages,
		resolvers: resolvers,
		invoker:   invoker,
		broker:    b,
	}, nil
}

// Stages returns the fixed execution order.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Run executes every stage in order. Collaborator trouble is absorbed by
// the invoker's fallbacks; Run itself fails only on unrecoverable stage
// errors such as a cancelled context, which abort the remaining stages.
func (p *Pipeline) Run(ctx context.Context, hooks Hooks) (Result, error) {
	outputs := make(map[string]string, len(p.stages))
	turns := 0

	for _, stage := range p.stages {
		hooks.stageStart(stage)

		prompt := buildPrompt(stage, outputs)
		resolve := p.resolvers[stage.Role]

		generated, err := p.invoker.Do(ctx, stage.Role, func(ctx context.Context) (string, error) {
			return resolve(ctx, prompt)
		})
		if err != nil {
			return Result{}, fmt.Errorf("stage %q: %w", stage.Name, err)
		}

		if stage.Interactive {
			p.broker.SetQuestion(generated)
			hooks.questionPosted(stage, generated)

			answer, err := p.broker.Get(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("stage %q: wait for answer: %w", stage.Name, err)
			}
			hooks.answer(stage, generated, answer)

			outputs[stage.Name] = answer
			turns++
		} else {
			outputs[stage.Name] = generated
		}

		hooks.stageDone(stage, outputs[stage.Name])
	}

	return Result{
		Outputs: outputs,
		Final:   outputs[p.stages[len(p.stages)-1].Name],
		Turns:   turns,
	}, nil
}

// buildPrompt concatenates the dependency outputs in declaration order,
// labelled by stage name, followed by the stage's instruction payload.
func buildPrompt(stage Stage, outputs map[string]string) string {
	var b strings.Builder
	for _, dep := range stage.DependsOn {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", dep, outputs[dep])
	}
	b.WriteString(stage.Instructions)
	return b.String()
}
