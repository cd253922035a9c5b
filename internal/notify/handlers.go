package notify

import (
	"context"
	"reflect"

	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/store"
)

// OnGameCreated notifies the owning team's members that a game was
// scheduled. A missing team or an empty recipient set is a no-op.
func (n *Notifier) OnGameCreated(ctx context.Context, gameID string, game store.Game) error {
	team, err := n.FetchTeam(ctx, game.TeamID)
	if err != nil || team == nil {
		return err
	}

	tokens := n.ResolveTokens(ctx, team.MemberIDs, store.CategoryTeamAnnouncements)
	if len(tokens) == 0 {
		return nil
	}

	return n.Dispatch(ctx, tokens, push.Message{
		Title: "New game scheduled",
		Body:  "Your team has a new game.",
		Data: map[string]string{
			"type":   push.TypeGameCreated,
			"gameId": gameID,
			"teamId": game.TeamID,
		},
	})
}

// OnGameUpdated notifies the team admin when attendance changed. Updates
// that leave the confirmations map equal by value produce nothing.
func (n *Notifier) OnGameUpdated(ctx context.Context, gameID string, before, after store.Game) error {
	if !ConfirmationsChanged(before.Confirmations, after.Confirmations) {
		return nil
	}

	team, err := n.FetchTeam(ctx, after.TeamID)
	if err != nil || team == nil || team.AdminID == "" {
		return err
	}

	tokens := n.ResolveTokens(ctx, []string{team.AdminID}, store.CategoryTeamAnnouncements)
	if len(tokens) == 0 {
		return nil
	}

	return n.Dispatch(ctx, tokens, push.Message{
		Title: "Game attendance updated",
		Body:  "Someone changed their status for an upcoming game.",
		Data: map[string]string{
			"type":   push.TypeConfirmationChanged,
			"gameId": gameID,
			"teamId": after.TeamID,
		},
	})
}

// OnChatMessageCreated fans a chat message out to every team member except
// the sender. The body is the message text verbatim.
func (n *Notifier) OnChatMessageCreated(ctx context.Context, teamID, messageID string, msg store.ChatMessage) error {
	team, err := n.FetchTeam(ctx, teamID)
	if err != nil || team == nil {
		return err
	}

	recipients := make([]string, 0, len(team.MemberIDs))
	for _, id := range team.MemberIDs {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}

	tokens := n.ResolveTokens(ctx, recipients, store.CategoryChatMessages)
	if len(tokens) == 0 {
		return nil
	}

	data := map[string]string{
		"type":   push.TypeChatMessage,
		"teamId": teamID,
	}
	if messageID != "" {
		data["messageId"] = messageID
	}
	return n.Dispatch(ctx, tokens, push.Message{
		Title: "New message in " + TeamDisplayName(team, "team chat"),
		Body:  msg.Text,
		Data:  data,
	})
}

// ConfirmationsChanged compares two confirmation maps by value. A nil map
// equals an empty one.
func ConfirmationsChanged(before, after map[string]string) bool {
	if len(before) == 0 && len(after) == 0 {
		return false
	}
	return !reflect.DeepEqual(before, after)
}
