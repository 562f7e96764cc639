package agent

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDeduplicates(t *testing.T) {
	e := NewEvidence("checkout", 0)
	payload := `{"success":true,"deployments":[{"sha":"abc123","environment":"production"}]}`

	e.MergePayload(payload)
	e.MergePayload(payload)

	assert.Len(t, e.Deployments(), 1)
}

func TestMergeKeyOrderIrrelevant(t *testing.T) {
	e := NewEvidence("", 0)
	e.MergePayload(`{"deployments":[{"sha":"abc","env":"prod"}]}`)
	e.MergePayload(`{"deployments":[{"env":"prod","sha":"abc"}]}`)

	assert.Len(t, e.Deployments(), 1)
}

func TestMergeCapsAtTwenty(t *testing.T) {
	e := NewEvidence("", 0)
	for i := 0; i < 25; i++ {
		e.MergePayload(fmt.Sprintf(`{"deployments":[{"sha":"sha-%02d"}]}`, i))
	}

	deployments := e.Deployments()
	require.Len(t, deployments, 20)

	// The 5 oldest were evicted; the most recent 20 remain in order.
	assert.Equal(t, "sha-05", deployments[0]["sha"])
	assert.Equal(t, "sha-24", deployments[19]["sha"])
}

func TestConfiguredCapHonored(t *testing.T) {
	e := NewEvidence("", 3)
	for i := 0; i < 5; i++ {
		e.MergePayload(fmt.Sprintf(`{"deployments":[{"sha":"sha-%02d"}]}`, i))
	}

	deployments := e.Deployments()
	require.Len(t, deployments, 3)
	assert.Equal(t, "sha-02", deployments[0]["sha"])
	assert.Equal(t, "sha-04", deployments[2]["sha"])
}

func TestInvestigationCarriesDeploymentsCap(t *testing.T) {
	inv := NewInvestigation("inv-1", "org-1", testAlert(), 15, 2)
	for i := 0; i < 4; i++ {
		inv.Evidence.MergePayload(fmt.Sprintf(`{"deployments":[{"sha":"sha-%02d"}]}`, i))
	}

	assert.Len(t, inv.Evidence.Deployments(), 2)
}

func TestEvictedDeploymentCanReturn(t *testing.T) {
	e := NewEvidence("", 0)
	for i := 0; i < 21; i++ {
		e.MergePayload(fmt.Sprintf(`{"deployments":[{"sha":"sha-%02d"}]}`, i))
	}
	// sha-00 fell out of the window, so re-merging it appends again.
	e.MergePayload(`{"deployments":[{"sha":"sha-00"}]}`)

	deployments := e.Deployments()
	assert.Equal(t, "sha-00", deployments[len(deployments)-1]["sha"])
}

func TestMergeIgnoresMalformedPayloads(t *testing.T) {
	e := NewEvidence("checkout", 0)
	e.MergePayload("not json at all")
	e.MergePayload(`{"deployments":"not an array"}`)
	e.MergePayload(`{"deployments":[42,"string"]}`)

	assert.Empty(t, e.Deployments())
}

func TestServicesSeededAndMerged(t *testing.T) {
	e := NewEvidence("checkout", 0)
	e.MergePayload(`{"success":true,"affected_services":["payments","inventory"]}`)

	assert.Equal(t, []string{"checkout", "inventory", "payments"}, e.Services())
}

func TestDeploymentsReturnsCopy(t *testing.T) {
	e := NewEvidence("", 0)
	e.MergePayload(`{"deployments":[{"sha":"abc"}]}`)

	first := e.Deployments()
	first[0] = Deployment{"sha": "mutated"}

	assert.Equal(t, "abc", e.Deployments()[0]["sha"])
}

func TestDeploymentJSONRoundTrip(t *testing.T) {
	e := NewEvidence("", 0)
	e.MergePayload(`{"deployments":[{"sha":"abc","minutes_ago":12}]}`)

	data, err := json.Marshal(e.Deployments())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sha":"abc"`)
}
