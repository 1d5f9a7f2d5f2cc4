package fallback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/router"
	"github.com/ashureev/animalcare/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	animals []domain.AnimalSummary
	err     error
	panics  bool
}

func (f fakeLister) AvailableAnimals(context.Context, int) ([]domain.AnimalSummary, error) {
	if f.panics {
		panic("boom")
	}
	return f.animals, f.err
}

func TestCauseTag(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"timeout":     {&workflow.UpstreamError{Endpoint: "adoption", Kind: workflow.KindTimeout}, CauseUpstreamTimeout},
		"protocol":    {&workflow.UpstreamError{Endpoint: "adoption", Kind: workflow.KindProtocol, StatusCode: 500}, CauseUpstreamProtocol},
		"transport":   {&workflow.UpstreamError{Endpoint: "adoption", Kind: workflow.KindTransport}, CauseUpstreamUnavailable},
		"wrapped":     {fmt.Errorf("execute: %w", &workflow.UpstreamError{Kind: workflow.KindTimeout}), CauseUpstreamTimeout},
		"schema":      {&router.SchemaError{Reason: "bad"}, CauseRouting},
		"other":       {errors.New("nil pointer"), CauseInternal},
		"no error":    {nil, CauseInternal},
		"ctx expired": {context.DeadlineExceeded, CauseUpstreamTimeout},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, CauseTag(tc.err), name)
	}
}

func TestBucket(t *testing.T) {
	assert.Equal(t, BucketAdoption, Bucket("Quero adotar um gato", nil))
	assert.Equal(t, BucketAnimal, Bucket("Tem cachorro disponível?", nil))
	assert.Equal(t, BucketGeneral, Bucket("qual o horário de atendimento?", nil))

	s := domain.NewSession("s1", "", 20)
	s.LastIntent = string(domain.IntentAdoptionFollowUp)
	assert.Equal(t, BucketAdoption, Bucket("e agora?", s))
	s.LastIntent = string(domain.IntentAnimalSearch)
	assert.Equal(t, BucketAnimal, Bucket("e agora?", s))
	s.LastIntent = string(domain.IntentGeneralQuery)
	assert.Equal(t, BucketGeneral, Bucket("e agora?", s))
}

func TestRespondAnimalBucketListsAvailableAnimals(t *testing.T) {
	e := NewEngine(fakeLister{animals: []domain.AnimalSummary{
		{ID: "1", Name: "Rex", Species: "dog"},
		{ID: "2", Name: "Mia", Species: "cat"},
	}}, nil)
	cause := &workflow.UpstreamError{Endpoint: "animal-management", Kind: workflow.KindTimeout}

	resp := e.Respond(context.Background(), "buscar animais disponíveis", nil, cause)

	require.NotNil(t, resp)
	assert.Contains(t, resp.Message, "Rex (dog)")
	assert.Contains(t, resp.Message, "Mia (cat)")
	assert.Equal(t, domain.AgentFallback, resp.Agent)
	assert.Equal(t, Confidence, resp.Confidence)
	assert.Equal(t, true, resp.Metadata["fallback"])
	assert.Equal(t, CauseUpstreamTimeout, resp.Metadata["cause"])
	assert.Equal(t, BucketAnimal, resp.Metadata["bucket"])
	assert.NotEmpty(t, resp.Actions)
	assert.NotNil(t, resp.ToolCalls)
}

func TestRespondAnimalBucketDowngradesOnListFailure(t *testing.T) {
	e := NewEngine(fakeLister{err: errors.New("db down")}, nil)
	resp := e.Respond(context.Background(), "buscar animais", nil, errors.New("x"))

	assert.NotContains(t, resp.Message, "disponíveis para adoção:")
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, BucketAnimal, resp.Metadata["bucket"])
}

func TestRespondAdoptionAndGeneral(t *testing.T) {
	e := NewEngine(nil, nil)

	adoption := e.Respond(context.Background(), "como adotar?", nil, nil)
	assert.Equal(t, BucketAdoption, adoption.Metadata["bucket"])
	assert.Contains(t, adoption.Message, "adoção")

	general := e.Respond(context.Background(), "bom dia", nil, nil)
	assert.Equal(t, BucketGeneral, general.Metadata["bucket"])
	assert.NotEmpty(t, general.Message)
}

func TestRespondNeverPanics(t *testing.T) {
	e := NewEngine(fakeLister{panics: true}, nil)

	var resp *domain.WorkflowResponse
	assert.NotPanics(t, func() {
		resp = e.Respond(context.Background(), "listar gatos", nil, errors.New("x"))
	})
	require.NotNil(t, resp)
	assert.Equal(t, StaticConfidence, resp.Confidence)
	assert.Equal(t, true, resp.Metadata["static"])
	types := []string{resp.Actions[0].Type, resp.Actions[1].Type}
	assert.ElementsMatch(t, []string{"retry", "contact_support"}, types)
}
