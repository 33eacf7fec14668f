package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouter_RuleTableShortCircuitsBeforeLLM(t *testing.T) {
	reg := newFakeRegistry()
	router := NewRouter([]RuleEntry{{IntentLabel: "search_mail", Keywords: []string{"search", "mail"}, Strategy: StrategySingle}}, nil, reg)

	route := router.Route(context.Background(), "please search my mail for invoices")
	assert.Equal(t, "search_mail", route.IntentLabel)
	assert.Equal(t, 1.0, route.Confidence)
}

func TestRouter_FallsBackToUnknownWithNoClassifier(t *testing.T) {
	reg := newFakeRegistry()
	router := NewRouter(nil, nil, reg)
	route := router.Route(context.Background(), "do something obscure")
	assert.Equal(t, "unknown", route.IntentLabel)
}

type fakeClassifier struct {
	label string
	conf  float64
	err   error
}

func (f fakeClassifier) Classify(ctx context.Context, utterance string, knownIntents []string) (string, float64, error) {
	return f.label, f.conf, f.err
}

func TestRouter_FallsBackToLLMWhenNoRuleMatches(t *testing.T) {
	reg := newFakeRegistry()
	router := NewRouter(nil, fakeClassifier{label: "schedule_meeting", conf: 0.8}, reg)
	route := router.Route(context.Background(), "set up time with the team tomorrow")
	assert.Equal(t, "schedule_meeting", route.IntentLabel)
	assert.Equal(t, 0.8, route.Confidence)
}
