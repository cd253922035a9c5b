package trigger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/huddle/internal/store"
	fsstore "github.com/albapepper/huddle/internal/store/firestore"
)

// FirestoreEvent is the JSON body of a Firestore document trigger.
type FirestoreEvent struct {
	OldValue   *FirestoreDocument `json:"oldValue"`
	Value      *FirestoreDocument `json:"value"`
	UpdateMask struct {
		FieldPaths []string `json:"fieldPaths"`
	} `json:"updateMask"`
}

// FirestoreDocument is one document state inside a FirestoreEvent.
type FirestoreDocument struct {
	Name       string                    `json:"name"`
	Fields     map[string]FirestoreValue `json:"fields"`
	CreateTime time.Time                 `json:"createTime"`
	UpdateTime time.Time                 `json:"updateTime"`
}

// FirestoreValue is a typed Firestore value. Exactly one field is set;
// none set means null.
type FirestoreValue struct {
	StringValue    *string    `json:"stringValue,omitempty"`
	BooleanValue   *bool      `json:"booleanValue,omitempty"`
	IntegerValue   *string    `json:"integerValue,omitempty"`
	DoubleValue    *float64   `json:"doubleValue,omitempty"`
	TimestampValue *time.Time `json:"timestampValue,omitempty"`
	ReferenceValue *string    `json:"referenceValue,omitempty"`
	MapValue       *struct {
		Fields map[string]FirestoreValue `json:"fields"`
	} `json:"mapValue,omitempty"`
	ArrayValue *struct {
		Values []FirestoreValue `json:"values"`
	} `json:"arrayValue,omitempty"`
}

// Interface converts v to the Go types the Firestore client returns from
// DocumentSnapshot.Data.
func (v FirestoreValue) Interface() interface{} {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.IntegerValue != nil:
		n, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.TimestampValue != nil:
		return *v.TimestampValue
	case v.ReferenceValue != nil:
		return *v.ReferenceValue
	case v.MapValue != nil:
		return fieldsToMap(v.MapValue.Fields)
	case v.ArrayValue != nil:
		out := make([]interface{}, 0, len(v.ArrayValue.Values))
		for _, x := range v.ArrayValue.Values {
			out = append(out, x.Interface())
		}
		return out
	}
	return nil
}

func fieldsToMap(fields map[string]FirestoreValue) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		m[k] = v.Interface()
	}
	return m
}

// Exists reports whether the document state is present (create events carry
// an empty oldValue, delete events an empty value).
func (d *FirestoreDocument) Exists() bool {
	return d != nil && d.Name != ""
}

// Data returns the document fields as plain Go values.
func (d *FirestoreDocument) Data() map[string]interface{} {
	if d == nil {
		return nil
	}
	return fieldsToMap(d.Fields)
}

// DocumentPath splits a full resource name
// (projects/p/databases/d/documents/teams/T/messages/M) into its
// collection/id segments after "documents/".
func DocumentPath(name string) []string {
	_, rel, ok := strings.Cut(name, "/documents/")
	if !ok {
		rel = name
	}
	return strings.Split(strings.Trim(rel, "/"), "/")
}

// DecodeFirestoreEvent classifies a Firestore document event. eventID is the
// delivery's stable id (Pub/Sub message id, CloudEvent id); when empty the
// document name plus update time is used. Returns ErrIgnored for changes no
// handler reacts to.
func DecodeFirestoreEvent(body []byte, eventID string) (Event, error) {
	var fe FirestoreEvent
	if err := json.Unmarshal(body, &fe); err != nil {
		return Event{}, fmt.Errorf("decode firestore event: %w", err)
	}

	doc := fe.Value
	if !doc.Exists() {
		return Event{}, fmt.Errorf("document deleted: %w", ErrIgnored)
	}
	if eventID == "" {
		eventID = doc.Name + "@" + doc.UpdateTime.UTC().Format(time.RFC3339Nano)
	}

	path := DocumentPath(doc.Name)
	switch {
	case len(path) == 2 && path[0] == store.GamesCollection:
		gameID := path[1]
		after := fsstore.DecodeGame(gameID, doc.Data())
		ev := Event{ID: eventID, GameID: gameID, TeamID: after.TeamID, After: &after}
		if !fe.OldValue.Exists() {
			ev.Kind = KindGameCreated
			return ev, nil
		}
		before := fsstore.DecodeGame(gameID, fe.OldValue.Data())
		ev.Kind = KindGameUpdated
		ev.Before = &before
		return ev, nil

	case len(path) == 4 && path[0] == store.TeamsCollection && path[2] == store.MessagesCollection:
		if fe.OldValue.Exists() {
			return Event{}, fmt.Errorf("message edited: %w", ErrIgnored)
		}
		teamID, messageID := path[1], path[3]
		msg := fsstore.DecodeChatMessage(teamID, messageID, doc.Data())
		return Event{
			ID:        eventID,
			Kind:      KindChatMessageCreated,
			TeamID:    teamID,
			MessageID: messageID,
			Message:   &msg,
		}, nil
	}
	return Event{}, fmt.Errorf("document %s: %w", doc.Name, ErrIgnored)
}
