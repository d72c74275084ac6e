package dao_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qornetwork/taskmarket/internal/dao"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

func newService(t *testing.T) (*dao.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return dao.NewService(ms), ms
}

func propose(t *testing.T, svc *dao.Service) *model.Proposal {
	t.Helper()
	p, err := svc.Propose(context.Background(), dao.ProposeRequest{
		Title:       "raise required score floor",
		Description: "minimum verification score 85",
		Action:      "set_min_score:85",
	})
	require.NoError(t, err)
	return p
}

func vote(t *testing.T, svc *dao.Service, proposalID string, support bool, weight int64) {
	t.Helper()
	w := decimal.NewFromInt(weight)
	require.NoError(t, svc.Vote(context.Background(), dao.VoteRequest{
		ProposalID: proposalID,
		Support:    support,
		Weight:     &w,
	}))
}

func TestPropose(t *testing.T) {
	svc, ms := newService(t)

	p := propose(t, svc)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.ProposalActive, p.Status)
	assert.True(t, p.YesVotes.IsZero())
	assert.True(t, p.NoVotes.IsZero())

	got, err := ms.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
}

func TestVote_DefaultWeight(t *testing.T) {
	svc, ms := newService(t)
	p := propose(t, svc)

	require.NoError(t, svc.Vote(context.Background(), dao.VoteRequest{
		ProposalID: p.ID,
		Support:    true,
	}))

	got, err := ms.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.YesVotes.Equal(decimal.NewFromInt(1)))
}

func TestVote_UnknownProposal(t *testing.T) {
	svc, _ := newService(t)

	err := svc.Vote(context.Background(), dao.VoteRequest{
		ProposalID: "no-such-proposal",
		Support:    true,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecute_Majority(t *testing.T) {
	svc, ms := newService(t)
	p := propose(t, svc)

	vote(t, svc, p.ID, true, 60)
	vote(t, svc, p.ID, false, 40)

	result, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalExecuted, result.Status)
	assert.Equal(t, "set_min_score:85", result.Action)

	got, err := ms.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalExecuted, got.Status)
}

func TestExecute_Tie(t *testing.T) {
	// A tie keeps the status quo: the proposal is rejected.
	svc, _ := newService(t)
	p := propose(t, svc)

	vote(t, svc, p.ID, true, 50)
	vote(t, svc, p.ID, false, 50)

	result, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, result.Status)
	assert.Empty(t, result.Action)
}

func TestExecute_NoVotes(t *testing.T) {
	svc, _ := newService(t)
	p := propose(t, svc)

	result, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, result.Status)
}

func TestExecute_Twice(t *testing.T) {
	svc, _ := newService(t)
	p := propose(t, svc)
	vote(t, svc, p.ID, true, 10)

	_, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), p.ID)
	assert.ErrorIs(t, err, store.ErrProposalClosed)
}

func TestVote_AfterExecution(t *testing.T) {
	svc, _ := newService(t)
	p := propose(t, svc)
	vote(t, svc, p.ID, true, 10)

	_, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)

	err = svc.Vote(context.Background(), dao.VoteRequest{ProposalID: p.ID, Support: true})
	assert.ErrorIs(t, err, store.ErrProposalClosed)
}
