package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleClassifier_DecomposeResolvesRegisteredIntent(t *testing.T) {
	c := NewRuleClassifier([]DecompositionEntry{
		{IntentLabel: "search_mail", Requests: []PlanRequest{{Verb: "mail.search", Required: true}}},
	})

	requests, err := c.Decompose(context.Background(), RouteResult{IntentLabel: "search_mail"}, "search my mail")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "mail.search", requests[0].Verb)
}

func TestRuleClassifier_DecomposeErrorsOnUnknownIntent(t *testing.T) {
	c := NewRuleClassifier(nil)
	_, err := c.Decompose(context.Background(), RouteResult{IntentLabel: "unknown"}, "do a backflip")
	require.Error(t, err)
}
