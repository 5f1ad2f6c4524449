package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventureline/internal/engine"
)

func createTestEscalation(t *testing.T, env testEnv) string {
	t.Helper()
	esc, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationOptions{
		ProjectID:   "proj-1",
		AgentID:     "research-agent-1",
		AgentName:   "Research Agent",
		IssueType:   "blocked",
		Description: "payment provider rejects sandbox account",
	})
	require.NoError(t, err)
	return esc.ID
}

func TestCreateEscalationStartsAtManager(t *testing.T) {
	env := newTestEnv(t)
	esc, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationOptions{
		ProjectID:   "proj-1",
		AgentID:     "research-agent-1",
		ManagerID:   "research-manager",
		IssueType:   "decision_needed",
		Description: "two shortlisted domains, need a pick",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, esc.Level)
	assert.Equal(t, engine.HandlerManager, esc.HandlerType)
	assert.Equal(t, "research-manager", esc.HandlerID)
	assert.Equal(t, "open", esc.Status)
	assert.NotEmpty(t, esc.EscalatedToManagerAt)

	// the handler gets a message, the project inbox a notification
	messages, err := env.Engine.Repo.ListMessages(env.Ctx, "proj-1", "research-manager")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, esc.ID, messages[0].EscalationID)

	notifications, err := env.Engine.Repo.ListNotifications(env.Ctx, "proj-1", true)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "normal", notifications[0].Priority)
}

func TestCreateEscalationValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationOptions{ProjectID: "proj-1", IssueType: "blocked"})
	assert.ErrorContains(t, err, "agent_id")
	_, err = env.Engine.CreateEscalation(env.Ctx, engine.EscalationOptions{ProjectID: "proj-1", AgentID: "a1"})
	assert.ErrorContains(t, err, "issue_type")
	_, err = env.Engine.CreateEscalation(env.Ctx, engine.EscalationOptions{ProjectID: "nope", AgentID: "a1", IssueType: "blocked"})
	assert.Error(t, err)
}

func TestEscalationLadderOnlyGoesUp(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)

	esc, err := env.Engine.EscalateToCEO(env.Ctx, id, "manager could not unblock", "research-manager")
	require.NoError(t, err)
	assert.Equal(t, 2, esc.Level)
	assert.Equal(t, engine.HandlerSeniorAgent, esc.HandlerType)
	assert.Equal(t, "in_progress", esc.Status)
	require.NotNil(t, esc.EscalatedToCEOAt)

	// the failed level-1 attempt is recorded
	attempts, err := env.Engine.Repo.ListSolutionAttempts(env.Ctx, id)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, engine.HandlerManager, attempts[0].Level)
	assert.Equal(t, "manager could not unblock", attempts[0].Reason)

	// promoting a level-2 escalation to level 2 again is invalid
	_, err = env.Engine.EscalateToCEO(env.Ctx, id, "again", "someone")
	var transition engine.TransitionError
	assert.ErrorAs(t, err, &transition)

	esc, err = env.Engine.EscalateToHuman(env.Ctx, id, "ceo agent stuck too", "ceo")
	require.NoError(t, err)
	assert.Equal(t, 3, esc.Level)
	assert.Equal(t, engine.HandlerHuman, esc.HandlerType)
	assert.Equal(t, "pending_human", esc.Status)
	require.NotNil(t, esc.EscalatedToHumanAt)

	_, err = env.Engine.EscalateToHuman(env.Ctx, id, "again", "someone")
	assert.ErrorAs(t, err, &transition)

	// level 3 raises a high-priority notification for the operator
	notifications, err := env.Engine.Repo.ListNotifications(env.Ctx, "proj-1", true)
	require.NoError(t, err)
	var high int
	for _, n := range notifications {
		if n.Priority == "high" {
			high++
		}
	}
	assert.Equal(t, 1, high)
}

func TestEscalateToHumanRequiresLevelTwo(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)
	_, err := env.Engine.EscalateToHuman(env.Ctx, id, "skip a level", "someone")
	var transition engine.TransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestResolveIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)

	esc, err := env.Engine.ResolveEscalation(env.Ctx, id, "used alternative provider", "workaround", "research-manager")
	require.NoError(t, err)
	assert.Equal(t, "resolved", esc.Status)
	require.NotNil(t, esc.Resolution)
	assert.Equal(t, "used alternative provider", *esc.Resolution)
	require.NotNil(t, esc.ResolvedBy)
	assert.Equal(t, "research-manager", *esc.ResolvedBy)

	var transition engine.TransitionError
	_, err = env.Engine.ResolveEscalation(env.Ctx, id, "again", "", "someone")
	assert.ErrorAs(t, err, &transition)
	_, err = env.Engine.EscalateToCEO(env.Ctx, id, "too late", "someone")
	assert.ErrorAs(t, err, &transition)

	// the reporting agent is told about the resolution
	messages, err := env.Engine.Repo.ListMessages(env.Ctx, "proj-1", "research-agent-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Subject, "resolved")
}

func TestAddSolutionAttemptDefaultsToHandlerLevel(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)

	attempt, err := env.Engine.AddSolutionAttempt(env.Ctx, id, "", "retried with backoff")
	require.NoError(t, err)
	assert.Equal(t, engine.HandlerManager, attempt.Level)

	_, err = env.Engine.AddSolutionAttempt(env.Ctx, id, "", "")
	assert.ErrorContains(t, err, "reason")

	// attempts never change the escalation state
	esc, err := env.Engine.Repo.GetEscalation(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, esc.Level)
	assert.Equal(t, "open", esc.Status)
}

func TestCheckTimeoutsPromotesStalledEscalations(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)

	// inside the manager budget nothing moves
	*env.Clock = env.Clock.Add(4 * time.Minute)
	res, err := env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{Checked: 1, Escalated: 0}, res)

	// past five minutes the manager times out
	*env.Clock = env.Clock.Add(2 * time.Minute)
	res, err = env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{Checked: 1, Escalated: 1}, res)

	esc, err := env.Engine.Repo.GetEscalation(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, esc.Level)
	assert.Equal(t, engine.HandlerSeniorAgent, esc.HandlerType)

	attempts, err := env.Engine.Repo.ListSolutionAttempts(env.Ctx, id)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "manager timeout", attempts[0].Reason)

	// the ceo budget starts from the promotion, not from creation
	*env.Clock = env.Clock.Add(9 * time.Minute)
	res, err = env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)

	*env.Clock = env.Clock.Add(2 * time.Minute)
	res, err = env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)

	esc, err = env.Engine.Repo.GetEscalation(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, esc.Level)
	assert.Equal(t, "pending_human", esc.Status)

	// pending_human is out of the sweep's reach
	res, err = env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{Checked: 0, Escalated: 0}, res)
}

func TestCheckTimeoutsSkipsResolved(t *testing.T) {
	env := newTestEnv(t)
	id := createTestEscalation(t, env)
	_, err := env.Engine.ResolveEscalation(env.Ctx, id, "fixed", "", "research-manager")
	require.NoError(t, err)

	*env.Clock = env.Clock.Add(time.Hour)
	res, err := env.Engine.CheckTimeouts(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{Checked: 0, Escalated: 0}, res)
}

func TestRespondToEscalation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("resolve", func(t *testing.T) {
		id := createTestEscalation(t, env)
		esc, err := env.Engine.RespondToEscalation(env.Ctx, id, "research-manager", "manager", "rotated the credentials", "resolve")
		require.NoError(t, err)
		assert.Equal(t, "resolved", esc.Status)
	})

	t.Run("escalate walks the ladder", func(t *testing.T) {
		id := createTestEscalation(t, env)
		esc, err := env.Engine.RespondToEscalation(env.Ctx, id, "research-manager", "manager", "beyond my authority", "escalate")
		require.NoError(t, err)
		assert.Equal(t, 2, esc.Level)
		esc, err = env.Engine.RespondToEscalation(env.Ctx, id, "ceo", "ceo", "needs a human call", "escalate")
		require.NoError(t, err)
		assert.Equal(t, 3, esc.Level)
		_, err = env.Engine.RespondToEscalation(env.Ctx, id, "human", "human", "nowhere higher", "escalate")
		var transition engine.TransitionError
		assert.ErrorAs(t, err, &transition)
	})

	t.Run("anything else records an attempt", func(t *testing.T) {
		id := createTestEscalation(t, env)
		esc, err := env.Engine.RespondToEscalation(env.Ctx, id, "research-manager", "manager", "trying a cache flush", "")
		require.NoError(t, err)
		assert.Equal(t, 1, esc.Level)
		attempts, err := env.Engine.Repo.ListSolutionAttempts(env.Ctx, id)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, "trying a cache flush", attempts[0].Reason)
	})
}
