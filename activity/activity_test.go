package activity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m4xw311/comclerk/session"
)

func msg(role string, completed int64) session.MessageWithParts {
	return session.MessageWithParts{
		Info: session.MessageInfo{
			ID:   session.NewMessageID(),
			Role: role,
			Time: session.MessageTime{Created: 1, Completed: completed},
		},
	}
}

func TestDerive(t *testing.T) {
	cases := []struct {
		name        string
		msgs        []session.MessageWithParts
		hasApproval bool
		want        Status
	}{
		{"empty conversation", nil, false, Idle},
		{"last message is user", []session.MessageWithParts{
			msg(session.RoleUser, 0),
		}, false, Generating},
		{"assistant still streaming", []session.MessageWithParts{
			msg(session.RoleUser, 0),
			msg(session.RoleAssistant, 0),
		}, false, Generating},
		{"assistant finished", []session.MessageWithParts{
			msg(session.RoleUser, 0),
			msg(session.RoleAssistant, 123),
		}, false, Idle},
		{"approval overrides generating", []session.MessageWithParts{
			msg(session.RoleUser, 0),
			msg(session.RoleAssistant, 0),
		}, true, AwaitingApproval},
		{"approval overrides idle", []session.MessageWithParts{
			msg(session.RoleUser, 0),
			msg(session.RoleAssistant, 123),
		}, true, AwaitingApproval},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Derive(tc.msgs, tc.hasApproval))
		})
	}
}

func TestTrackerNotifiesOnTransitions(t *testing.T) {
	var seen []Status
	tracker := NewTracker(func(s Status) { seen = append(seen, s) })
	require.Equal(t, Idle, tracker.Status())

	turn := []session.MessageWithParts{msg(session.RoleUser, 0)}
	tracker.Update(turn, false)
	tracker.Update(turn, false) // no transition, no callback
	tracker.Update(turn, true)
	tracker.Update([]session.MessageWithParts{
		msg(session.RoleUser, 0),
		msg(session.RoleAssistant, 99),
	}, false)

	require.Equal(t, []Status{Generating, AwaitingApproval, Idle}, seen)
	require.Equal(t, Idle, tracker.Status())
}
