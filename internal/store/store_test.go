package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcfischer/pai-deps/internal/apperr"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTool(id string) Tool {
	now := time.Now().UTC()
	return Tool{
		ID: id, DisplayName: id, FilesystemPath: "/tools/" + id, Kind: "library",
		Reliability: 0.95, CreatedAt: now, UpdatedAt: now,
	}
}

func TestUpsertAndGetTool(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("email")))
	got, err := s.GetTool(ctx, s.DB(), "email")
	require.NoError(t, err)
	require.Equal(t, "email", got.ID)
	require.Equal(t, "library", got.Kind)
}

func TestGetToolNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.GetTool(context.Background(), s.DB(), "missing")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestForeignKeyIntegrity(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.InsertEdge(ctx, s.DB(), DependencyEdge{
		ID: "e1", ConsumerID: "ghost-consumer", ProviderID: "ghost-provider",
		Kind: "library", CreatedAt: time.Now(),
	})
	require.Error(t, err)

	edges, err := s.ListEdges(ctx, s.DB())
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestCascadeDeleteTool(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("email")))
	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("resona")))
	require.NoError(t, s.InsertEdge(ctx, s.DB(), DependencyEdge{
		ID: "e1", ConsumerID: "email", ProviderID: "resona", Kind: "library", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.UpsertContract(ctx, s.DB(), Contract{
		ID: "c1", ToolID: "email", ContractKind: "cli_output", Name: "email search --json",
	}))
	require.NoError(t, s.InsertVerification(ctx, s.DB(), Verification{
		ID: "v1", ContractID: "c1", VerifiedAt: time.Now(), Status: "pass",
	}))
	require.NoError(t, s.InsertToolVerification(ctx, s.DB(), ToolVerification{
		ID: "tv1", ToolID: "email", VerifiedAt: time.Now(), OverallStatus: "pass",
	}))

	require.NoError(t, s.DeleteTool(ctx, s.DB(), "email"))

	contracts, err := s.ListContractsByTool(ctx, s.DB(), "email")
	require.NoError(t, err)
	require.Empty(t, contracts)

	edges, err := s.ListEdges(ctx, s.DB())
	require.NoError(t, err)
	require.Empty(t, edges)

	verifications, err := s.ListVerificationsByContract(ctx, s.DB(), "c1")
	require.NoError(t, err)
	require.Empty(t, verifications)

	toolVerifications, err := s.ListToolVerifications(ctx, s.DB(), "email")
	require.NoError(t, err)
	require.Empty(t, toolVerifications)
}

func TestUpsertContractPreservesHashWhenEmpty(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("email")))

	require.NoError(t, s.UpsertContract(ctx, s.DB(), Contract{
		ID: "c1", ToolID: "email", ContractKind: "cli_output", Name: "search", SchemaHash: "abc123",
	}))
	require.NoError(t, s.UpsertContract(ctx, s.DB(), Contract{
		ID: "c2", ToolID: "email", ContractKind: "cli_output", Name: "search",
	}))

	contracts, err := s.ListContractsByTool(ctx, s.DB(), "email")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.Equal(t, "abc123", contracts[0].SchemaHash)
}

func TestUpdateContractSchemaPersistsContent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("email")))
	require.NoError(t, s.UpsertContract(ctx, s.DB(), Contract{
		ID: "c1", ToolID: "email", ContractKind: "cli_output", Name: "search",
	}))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateContractSchema(ctx, s.DB(), "c1", "newhash", []byte(`{"a":1}`), ContractStatusValid, now))

	got, err := s.GetContract(ctx, s.DB(), "c1")
	require.NoError(t, err)
	require.Equal(t, "newhash", got.SchemaHash)
	require.Equal(t, []byte(`{"a":1}`), got.SchemaContent)
	require.Equal(t, ContractStatusValid, got.Status)
}

func TestDeleteEdgesByConsumerReplacesEnBloc(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("email")))
	require.NoError(t, s.UpsertTool(ctx, s.DB(), sampleTool("resona")))
	require.NoError(t, s.InsertEdge(ctx, s.DB(), DependencyEdge{
		ID: "e1", ConsumerID: "email", ProviderID: "resona", Kind: "library", CreatedAt: time.Now(),
	}))

	require.NoError(t, s.DeleteEdgesByConsumer(ctx, s.DB(), "email"))

	edges, err := s.ListEdgesByConsumer(ctx, s.DB(), "email")
	require.NoError(t, err)
	require.Empty(t, edges)
}
