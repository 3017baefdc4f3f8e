// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// MessageType discriminates the wire envelope's payload variant.
type MessageType int

const (
	TypeGetFullMonthCalendar MessageType = 1
	TypeGetFullWeekCalendar  MessageType = 2
	TypeGetDayCalendar       MessageType = 3
	TypeAddEvent             MessageType = 4
	TypeEditEvent            MessageType = 5
	TypeRemoveEvent          MessageType = 6
	TypeConnection           MessageType = 7
	TypeCreateUUID           MessageType = 8
	TypeInvalid              MessageType = 9
	TypeError                MessageType = 10
	TypeDisconnect           MessageType = 11
)

func (t MessageType) String() string {
	switch t {
	case TypeGetFullMonthCalendar:
		return "GET_FULL_MONTH_CALENDAR"
	case TypeGetFullWeekCalendar:
		return "GET_FULL_WEEK_CALENDAR"
	case TypeGetDayCalendar:
		return "GET_DAY_CALENDAR"
	case TypeAddEvent:
		return "ADD_EVENT"
	case TypeEditEvent:
		return "EDIT_EVENT"
	case TypeRemoveEvent:
		return "REMOVE_EVENT"
	case TypeConnection:
		return "CONNECTION"
	case TypeCreateUUID:
		return "CREATE_UUID"
	case TypeInvalid:
		return "INVALID"
	case TypeError:
		return "ERROR"
	case TypeDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the raw wire frame. Data stays undecoded until the
// messageType discriminant has selected a payload variant.
type Envelope struct {
	Type     MessageType     `json:"messageType"`
	ClinicID int64           `json:"clinicId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server-to-client frame. Data is marshaled by the transport.
type Outbound struct {
	Type     MessageType `json:"messageType"`
	ClinicID int64       `json:"clinicId"`
	Data     any         `json:"data,omitempty"`
}

// DateTime parses the timestamp formats terminals actually send and always
// marshals back as RFC 3339.
type DateTime struct {
	time.Time
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return oops.Code("WIRE_DECODE_FAILED").Wrap(err)
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return oops.Code("WIRE_DECODE_FAILED").With("value", s).Errorf("unrecognized date format")
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.RFC3339)) //nolint:wrapcheck
}

// DateOnly is a calendar date without a time component (YYYY-MM-DD).
type DateOnly struct {
	time.Time
}

func (d *DateOnly) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return oops.Code("WIRE_DECODE_FAILED").Wrap(err)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return oops.Code("WIRE_DECODE_FAILED").With("value", s).Errorf("expected YYYY-MM-DD date")
	}
	d.Time = t
	return nil
}

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.DateOnly)) //nolint:wrapcheck
}

// Inbound payload variants. Field names are the wire contract; structural
// rules live in validator tags, domain rules (absence reason, past date) in
// SchedulerEvent.Validate.

// GetFullMonthCalendarPayload asks for every event in a month.
type GetFullMonthCalendarPayload struct {
	Month int `json:"month" validate:"min=1,max=12"`
	Year  int `json:"year" validate:"required"`
}

// GetFullWeekCalendarPayload asks for the Sunday-first week containing a day.
type GetFullWeekCalendarPayload struct {
	Day   int `json:"day" validate:"min=1,max=31"`
	Month int `json:"month" validate:"min=1,max=12"`
	Year  int `json:"year" validate:"required"`
}

// GetDayCalendarPayload asks for every event on one date.
type GetDayCalendarPayload struct {
	Date DateOnly `json:"date"`
}

// AddEventPayload creates a new event. The acting user is always the
// connection's resolved identity, never a payload field.
type AddEventPayload struct {
	Date        DateTime `json:"date"`
	Description string   `json:"description"`
	IsReturn    bool     `json:"isReturn"`
	IsOff       bool     `json:"isOff"`
	OffReason   *string  `json:"offReason"`
	ClinicID    int64    `json:"clinicId" validate:"required"`
	PatientID   int64    `json:"patientId" validate:"required"`
	Patient     string   `json:"patient" validate:"required"`
	DeskID      int64    `json:"deskId" validate:"required"`
	Desk        string   `json:"desk" validate:"required"`
}

// EditEventPayload patches an existing event. A field is applied only when
// present and non-zero; zero values leave the stored field untouched.
type EditEventPayload struct {
	EventID     int64    `json:"eventId" validate:"required"`
	Status      *Status  `json:"status,omitempty" validate:"omitempty,oneof=WAITING_CONFIRMATION CONFIRMED CANCELED DONE"`
	Date        DateTime `json:"date"`
	Description string   `json:"description"`
	IsReturn    bool     `json:"isReturn"`
	IsOff       bool     `json:"isOff"`
	OffReason   *string  `json:"offReason"`
	PatientID   int64    `json:"patientId"`
	Patient     string   `json:"patient"`
	DeskID      int64    `json:"deskId"`
	Desk        string   `json:"desk"`
}

// RemoveEventPayload deletes an event by identifier.
type RemoveEventPayload struct {
	EventID int64 `json:"eventId" validate:"required"`
}

// ConnectionPayload authenticates the connection with a bearer token.
type ConnectionPayload struct {
	Token string `json:"token" validate:"required"`
}

// Outbound payload shapes.

// CreateUUIDResponse acknowledges admission with the session identifier.
type CreateUUIDResponse struct {
	UUID string `json:"uuid"`
}

// ErrorResponse carries a human-readable failure description.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventResponse is a single calendar entry as sent to terminals.
type EventResponse struct {
	ID          int64    `json:"id"`
	Date        DateTime `json:"date"`
	Description string   `json:"description"`
	IsReturn    bool     `json:"isReturn"`
	IsOff       bool     `json:"isOff"`
	OffReason   *string  `json:"offReason"`
	Patient     string   `json:"patient"`
	Desk        string   `json:"desk"`
}

// EventsCalendarResponse is the payload of every calendar query response.
type EventsCalendarResponse struct {
	Events []EventResponse `json:"events"`
}

// RemoveEventResponse echoes the removed event's identifier to the clinic.
type RemoveEventResponse struct {
	EventID int64 `json:"eventId"`
}

// NewEventResponse maps a stored event onto its wire shape.
func NewEventResponse(e SchedulerEvent) EventResponse {
	return EventResponse{
		ID:          e.ID,
		Date:        DateTime{e.Date},
		Description: e.Description,
		IsReturn:    e.IsReturn,
		IsOff:       e.IsOff,
		OffReason:   e.OffReason,
		Patient:     e.Patient,
		Desk:        e.Desk,
	}
}

// NewEventsCalendarResponse maps a query result onto its wire shape. The
// events slice is always non-nil so empty calendars serialize as [].
func NewEventsCalendarResponse(events []SchedulerEvent) EventsCalendarResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, NewEventResponse(e))
	}
	return EventsCalendarResponse{Events: out}
}

// InboundMessage is a decoded client frame: the discriminant, the clinic the
// sender claims to act for, and the typed payload variant.
type InboundMessage struct {
	Type     MessageType
	ClinicID int64
	Payload  any
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeMessage turns a raw frame into a typed InboundMessage. The
// discriminant selects the payload variant before any structural validation
// runs; unknown or server-only discriminants fail the decode.
func DecodeMessage(raw []byte) (InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundMessage{}, oops.Code("WIRE_DECODE_FAILED").Wrap(err)
	}

	msg := InboundMessage{Type: env.Type, ClinicID: env.ClinicID}

	switch env.Type {
	case TypeGetFullMonthCalendar:
		msg.Payload = &GetFullMonthCalendarPayload{}
	case TypeGetFullWeekCalendar:
		msg.Payload = &GetFullWeekCalendarPayload{}
	case TypeGetDayCalendar:
		msg.Payload = &GetDayCalendarPayload{}
	case TypeAddEvent:
		msg.Payload = &AddEventPayload{}
	case TypeEditEvent:
		msg.Payload = &EditEventPayload{}
	case TypeRemoveEvent:
		msg.Payload = &RemoveEventPayload{}
	case TypeConnection:
		msg.Payload = &ConnectionPayload{}
	case TypeDisconnect:
		return msg, nil
	default:
		return InboundMessage{}, oops.Code("WIRE_DECODE_FAILED").
			With("message_type", int(env.Type)).
			Errorf("unknown message type")
	}

	if len(env.Data) == 0 {
		return InboundMessage{}, oops.Code("WIRE_DECODE_FAILED").
			With("message_type", env.Type.String()).
			Errorf("missing payload")
	}
	if err := json.Unmarshal(env.Data, msg.Payload); err != nil {
		return InboundMessage{}, oops.Code("WIRE_DECODE_FAILED").
			With("message_type", env.Type.String()).
			Wrap(err)
	}
	if err := validate.Struct(msg.Payload); err != nil {
		return InboundMessage{}, oops.Code("WIRE_DECODE_FAILED").
			With("message_type", env.Type.String()).
			Wrap(err)
	}
	return msg, nil
}
