package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"
)

// Instruction selects the follow-up action once a looked-up file arrives
// in a GetFileResponse.
type Instruction string

const (
	InstrPlay   Instruction = "PLAY"
	InstrGet    Instruction = "GET"
	InstrOrder  Instruction = "ORDER"
	InstrRemove Instruction = "REMOVE"
)

// MusicState is a playback command carried by PlayAudioRequest.
type MusicState string

const (
	MusicPlay     MusicState = "PLAY"
	MusicPause    MusicState = "PAUSE"
	MusicStop     MusicState = "STOP"
	MusicContinue MusicState = "CONTINUE"
)

var (
	ErrUnknownVariant  = errors.New("protocol: unknown notification variant")
	ErrMalformedRecord = errors.New("protocol: malformed notification record")
	ErrRecordTooLarge  = errors.New("protocol: notification record exceeds size limit")
)

// maxRecordSize bounds a single wire record. Audio blobs ride inside
// notifications, so the limit has to be generous.
const maxRecordSize = 256 << 20

// Notification is the single wire unit. Every TCP connection carries
// exactly one, JSON-encoded, terminated by half-close.
type Notification struct {
	From    netip.AddrPort
	Content Content
}

// Content is one of the tagged notification variants below.
type Content interface {
	Kind() string
}

type PushToDB struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	From  string `json:"from"`
}

type RedundantPushToDB struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	From  string `json:"from"`
}

type ChangePeerName struct {
	Value string `json:"value"`
}

type SendNetworkTable struct {
	Value []byte `json:"value"`
}

type SendNetworkUpdateTable struct {
	Value []byte `json:"value"`
}

type RequestForTable struct {
	Value string `json:"value"`
}

type FindFile struct {
	Instr    Instruction `json:"instr"`
	SongName string      `json:"song_name"`
}

type ExistFile struct {
	SongName string    `json:"song_name"`
	ID       time.Time `json:"id"`
}

type ExistFileResponse struct {
	SongName string    `json:"song_name"`
	ID       time.Time `json:"id"`
}

type GetFile struct {
	Instr Instruction `json:"instr"`
	Key   string      `json:"key"`
}

type GetFileResponse struct {
	Instr Instruction `json:"instr"`
	Key   string      `json:"key"`
	Value []byte      `json:"value"`
}

type DeleteFileRequest struct {
	SongName string `json:"song_name"`
}

type DeleteFromNetwork struct {
	Name string `json:"name"`
}

type ExitPeer struct {
	Addr netip.AddrPort `json:"addr"`
}

type DroppedPeer struct {
	Addr netip.AddrPort `json:"addr"`
}

type StatusRequest struct{}

type SelfStatusRequest struct{}

type StatusResponse struct {
	Files []string `json:"files"`
	Name  string   `json:"name"`
}

type PlayAudioRequest struct {
	Name  *string    `json:"name"`
	State MusicState `json:"state"`
}

type OrderSongRequest struct {
	SongName string `json:"song_name"`
}

type Heartbeat struct{}

func (PushToDB) Kind() string               { return "PushToDB" }
func (RedundantPushToDB) Kind() string      { return "RedundantPushToDB" }
func (ChangePeerName) Kind() string         { return "ChangePeerName" }
func (SendNetworkTable) Kind() string       { return "SendNetworkTable" }
func (SendNetworkUpdateTable) Kind() string { return "SendNetworkUpdateTable" }
func (RequestForTable) Kind() string        { return "RequestForTable" }
func (FindFile) Kind() string               { return "FindFile" }
func (ExistFile) Kind() string              { return "ExistFile" }
func (ExistFileResponse) Kind() string      { return "ExistFileResponse" }
func (GetFile) Kind() string                { return "GetFile" }
func (GetFileResponse) Kind() string        { return "GetFileResponse" }
func (DeleteFileRequest) Kind() string      { return "DeleteFileRequest" }
func (DeleteFromNetwork) Kind() string      { return "DeleteFromNetwork" }
func (ExitPeer) Kind() string               { return "ExitPeer" }
func (DroppedPeer) Kind() string            { return "DroppedPeer" }
func (StatusRequest) Kind() string          { return "StatusRequest" }
func (SelfStatusRequest) Kind() string      { return "SelfStatusRequest" }
func (StatusResponse) Kind() string         { return "StatusResponse" }
func (PlayAudioRequest) Kind() string       { return "PlayAudioRequest" }
func (OrderSongRequest) Kind() string       { return "OrderSongRequest" }
func (Heartbeat) Kind() string              { return "Heartbeat" }

// newContent maps a wire tag to a zero value of the matching variant.
// Returned as a pointer so the JSON body can be unmarshaled into it.
func newContent(kind string) (Content, error) {
	switch kind {
	case "PushToDB":
		return &PushToDB{}, nil
	case "RedundantPushToDB":
		return &RedundantPushToDB{}, nil
	case "ChangePeerName":
		return &ChangePeerName{}, nil
	case "SendNetworkTable":
		return &SendNetworkTable{}, nil
	case "SendNetworkUpdateTable":
		return &SendNetworkUpdateTable{}, nil
	case "RequestForTable":
		return &RequestForTable{}, nil
	case "FindFile":
		return &FindFile{}, nil
	case "ExistFile":
		return &ExistFile{}, nil
	case "ExistFileResponse":
		return &ExistFileResponse{}, nil
	case "GetFile":
		return &GetFile{}, nil
	case "GetFileResponse":
		return &GetFileResponse{}, nil
	case "DeleteFileRequest":
		return &DeleteFileRequest{}, nil
	case "DeleteFromNetwork":
		return &DeleteFromNetwork{}, nil
	case "ExitPeer":
		return &ExitPeer{}, nil
	case "DroppedPeer":
		return &DroppedPeer{}, nil
	case "StatusRequest":
		return &StatusRequest{}, nil
	case "SelfStatusRequest":
		return &SelfStatusRequest{}, nil
	case "StatusResponse":
		return &StatusResponse{}, nil
	case "PlayAudioRequest":
		return &PlayAudioRequest{}, nil
	case "OrderSongRequest":
		return &OrderSongRequest{}, nil
	case "Heartbeat":
		return &Heartbeat{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, kind)
	}
}

type envelope struct {
	From    netip.AddrPort  `json:"from"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

var (
	_ json.Marshaler   = Notification{}
	_ json.Unmarshaler = (*Notification)(nil)
)

func (n Notification) MarshalJSON() ([]byte, error) {
	if n.Content == nil {
		return nil, ErrMalformedRecord
	}

	body, err := json.Marshal(n.Content)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{
		From:    n.From,
		Type:    n.Content.Kind(),
		Content: body,
	})
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	content, err := newContent(env.Type)
	if err != nil {
		return err
	}
	if len(env.Content) > 0 {
		if err := json.Unmarshal(env.Content, content); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	n.From = env.From

	// Dereference so callers can type-switch on value types.
	switch c := content.(type) {
	case *PushToDB:
		n.Content = *c
	case *RedundantPushToDB:
		n.Content = *c
	case *ChangePeerName:
		n.Content = *c
	case *SendNetworkTable:
		n.Content = *c
	case *SendNetworkUpdateTable:
		n.Content = *c
	case *RequestForTable:
		n.Content = *c
	case *FindFile:
		n.Content = *c
	case *ExistFile:
		n.Content = *c
	case *ExistFileResponse:
		n.Content = *c
	case *GetFile:
		n.Content = *c
	case *GetFileResponse:
		n.Content = *c
	case *DeleteFileRequest:
		n.Content = *c
	case *DeleteFromNetwork:
		n.Content = *c
	case *ExitPeer:
		n.Content = *c
	case *DroppedPeer:
		n.Content = *c
	case *StatusRequest:
		n.Content = *c
	case *SelfStatusRequest:
		n.Content = *c
	case *StatusResponse:
		n.Content = *c
	case *PlayAudioRequest:
		n.Content = *c
	case *OrderSongRequest:
		n.Content = *c
	case *Heartbeat:
		n.Content = *c
	}

	return nil
}

// ReadNotification reads a single record from r to EOF and decodes it.
// The sender half-closes after writing, so EOF delimits the record.
func ReadNotification(r io.Reader) (Notification, error) {
	var n Notification

	b, err := io.ReadAll(io.LimitReader(r, maxRecordSize+1))
	if err != nil {
		return n, err
	}
	if len(b) > maxRecordSize {
		return n, ErrRecordTooLarge
	}

	if err := json.Unmarshal(b, &n); err != nil {
		// Syntax errors never reach Notification.UnmarshalJSON, so the
		// sentinel is attached here.
		if !errors.Is(err, ErrUnknownVariant) && !errors.Is(err, ErrMalformedRecord) {
			err = fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return n, err
	}
	return n, nil
}

// WriteNotification encodes n and writes it to w as one record.
func WriteNotification(w io.Writer, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// EncodeTable serializes a directory for SendNetworkTable and
// SendNetworkUpdateTable payloads.
func EncodeTable(table map[string]netip.AddrPort) ([]byte, error) {
	return json.Marshal(table)
}

// DecodeTable is the inverse of EncodeTable.
func DecodeTable(b []byte) (map[string]netip.AddrPort, error) {
	table := make(map[string]netip.AddrPort)
	if err := json.Unmarshal(b, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return table, nil
}
