package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
)

func newMessage(typ MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: data}, nil
}

// OnEvent forwards an engine event to all clients. Register it with
// Engine.Subscribe.
func (s *Server) OnEvent(ev tasksync.Event) {
	var payload any
	switch ev.Kind {
	case tasksync.EventStatus:
		payload = ev.Status
	case tasksync.EventCalendarSynced:
		payload = ev.Tasks
	case tasksync.EventCalendarsChanged:
		payload = ev.Calendars
	case tasksync.EventTaskPushed:
		payload = TaskPushedData{TaskID: ev.TaskID}
	default:
		s.logger.Printf("Ignoring unknown event kind %q", ev.Kind)
		return
	}

	msg, err := newMessage(MessageType(ev.Kind), payload)
	if err != nil {
		s.logger.Printf("%v", err)
		return
	}
	s.Broadcast(msg)
}
