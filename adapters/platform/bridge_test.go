package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/auth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newSidecar starts a fake sidecar that checks the bearer token and then runs script
func newSidecar(t *testing.T, signer *auth.Signer, script func(conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := signer.ValidateToken(token)
		if err != nil || claims.InviteID != r.URL.Query().Get("invite_id") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testSigner(t *testing.T) *auth.Signer {
	t.Helper()
	signer, err := auth.NewSigner("bridge-secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return signer
}

func testInvite() *entities.Invite {
	return &entities.Invite{ID: "invite-1", Platform: entities.PlatformChime, MeetingID: "123", MeetingTime: 1}
}

func readFrame(t *testing.T, conn *websocket.Conn) EventFrame {
	var frame EventFrame
	_, data, err := conn.ReadMessage()
	if err != nil {
		return frame
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Errorf("Bad frame %s", data)
	}
	return frame
}

func sendFrame(conn *websocket.Conn, frame EventFrame) {
	data, _ := json.Marshal(frame)
	conn.WriteMessage(websocket.TextMessage, data)
}

func TestBridge_SessionRoundTrip(t *testing.T) {
	signer := testSigner(t)
	frames := make(chan string, 8)
	var join JoinFrame

	endpoint := newSidecar(t, signer, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		json.Unmarshal(data, &join)
		frames <- string(join.Type)

		sendFrame(conn, EventFrame{BaseFrame: BaseFrame{Type: FrameAdmitted}})
		sendFrame(conn, EventFrame{
			BaseFrame: BaseFrame{Type: FrameSpeakerChange, Timestamp: "2024-05-14T09:00:30Z"},
			Name:      "Alice",
		})
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		sendFrame(conn, EventFrame{
			BaseFrame: BaseFrame{Type: FrameChatMessage, Timestamp: "2024-05-14T09:01:00Z"},
			Sender:    "Bob",
			Text:      "START",
		})

		for {
			frame := readFrame(t, conn)
			if frame.Type == "" {
				return
			}
			frames <- string(frame.Type) + ":" + frame.Text
		}
	})

	factory := NewFactory(endpoint, signer, zap.NewNop())
	platform, err := factory.Open(context.Background(), testInvite())
	if err != nil {
		t.Fatalf("Failed to open bridge: %v", err)
	}

	speakers := make(chan entities.SpeakerEvent, 1)
	chats := make(chan entities.ChatMessage, 1)
	ended := make(chan error, 1)
	platform.OnSpeakerChange(func(event entities.SpeakerEvent) { speakers <- event })
	platform.OnChatMessage(func(m entities.ChatMessage) { chats <- m })
	platform.OnMeetingEnd(func(err error) { ended <- err })

	audio, err := platform.(repositories.AudioSource).Open(context.Background())
	if err != nil {
		t.Fatalf("Failed to open audio: %v", err)
	}

	admission, err := platform.Join(context.Background(), repositories.JoinCredentials{
		Platform: entities.PlatformChime, MeetingID: "123", DisplayName: "Scribe [Ada]",
	})
	if err != nil || admission != repositories.AdmissionAdmitted {
		t.Fatalf("Expected admission, got %s (%v)", admission, err)
	}
	if <-frames != string(FrameJoin) || join.DisplayName != "Scribe [Ada]" || join.MeetingID != "123" {
		t.Errorf("Unexpected join frame %+v", join)
	}

	if event := <-speakers; event.Name != "Alice" || !event.Timestamp.Equal(time.Date(2024, 5, 14, 9, 0, 30, 0, time.UTC)) {
		t.Errorf("Unexpected speaker event %+v", event)
	}
	pcm := make([]byte, 4)
	if _, err := io.ReadFull(audio, pcm); err != nil || pcm[3] != 4 {
		t.Errorf("Unexpected audio %v (%v)", pcm, err)
	}
	msg := <-chats
	if msg.Sender != "Bob" || msg.Text != "START" || !msg.ReceivedAt.Equal(time.Date(2024, 5, 14, 9, 1, 0, 0, time.UTC)) {
		t.Errorf("Unexpected chat message %+v", msg)
	}

	if err := platform.SendMessage(context.Background(), "Recording started"); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
	if got := <-frames; got != "send_message:Recording started" {
		t.Errorf("Unexpected frame %q", got)
	}

	if err := platform.Leave(context.Background()); err != nil {
		t.Errorf("Unexpected leave error: %v", err)
	}
	if got := <-frames; got != "leave:" {
		t.Errorf("Expected leave frame, got %q", got)
	}
	if err := platform.Leave(context.Background()); err != nil {
		t.Errorf("Second leave should be a no-op: %v", err)
	}

	select {
	case err := <-ended:
		t.Errorf("Leaving must not report a meeting end, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridge_MeetingEnd(t *testing.T) {
	signer := testSigner(t)
	endpoint := newSidecar(t, signer, func(conn *websocket.Conn) {
		readFrame(t, conn)
		sendFrame(conn, EventFrame{BaseFrame: BaseFrame{Type: FrameAdmitted}})
		sendFrame(conn, EventFrame{BaseFrame: BaseFrame{Type: FrameMeetingEnd}})
		for readFrame(t, conn).Type != "" {
		}
	})

	platform, err := NewFactory(endpoint, signer, zap.NewNop()).Open(context.Background(), testInvite())
	if err != nil {
		t.Fatalf("Failed to open bridge: %v", err)
	}
	ended := make(chan error, 2)
	platform.OnMeetingEnd(func(err error) { ended <- err })

	if _, err := platform.Join(context.Background(), repositories.JoinCredentials{}); err != nil {
		t.Fatalf("Unexpected join error: %v", err)
	}
	select {
	case err := <-ended:
		if err != nil {
			t.Errorf("Expected normal meeting end, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Meeting end not reported")
	}
	platform.Leave(context.Background())
}

func TestBridge_ConnectionLossIsAdapterFailure(t *testing.T) {
	signer := testSigner(t)
	endpoint := newSidecar(t, signer, func(conn *websocket.Conn) {
		readFrame(t, conn)
		sendFrame(conn, EventFrame{BaseFrame: BaseFrame{Type: FrameRejected}})
		// Drop the connection without a close frame.
	})

	platform, err := NewFactory(endpoint, signer, zap.NewNop()).Open(context.Background(), testInvite())
	if err != nil {
		t.Fatalf("Failed to open bridge: %v", err)
	}
	ended := make(chan error, 1)
	platform.OnMeetingEnd(func(err error) { ended <- err })

	admission, err := platform.Join(context.Background(), repositories.JoinCredentials{})
	if err != nil || admission != repositories.AdmissionRejected {
		t.Errorf("Expected rejection, got %s (%v)", admission, err)
	}

	select {
	case err := <-ended:
		if !errors.Is(err, domain.ErrAdapterFailure) {
			t.Errorf("Expected adapter failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connection loss not reported")
	}
}

func TestBridge_ErrorFrameFailsJoin(t *testing.T) {
	signer := testSigner(t)
	endpoint := newSidecar(t, signer, func(conn *websocket.Conn) {
		readFrame(t, conn)
		sendFrame(conn, EventFrame{BaseFrame: BaseFrame{Type: FrameError}, Code: "meeting_not_found", Message: "no such meeting"})
		for readFrame(t, conn).Type != "" {
		}
	})

	platform, err := NewFactory(endpoint, signer, zap.NewNop()).Open(context.Background(), testInvite())
	if err != nil {
		t.Fatalf("Failed to open bridge: %v", err)
	}
	defer platform.Leave(context.Background())

	if _, err := platform.Join(context.Background(), repositories.JoinCredentials{}); !errors.Is(err, domain.ErrAdapterFailure) {
		t.Errorf("Expected adapter failure, got %v", err)
	}
}

func TestFactory_Rejections(t *testing.T) {
	signer := testSigner(t)
	endpoint := newSidecar(t, signer, func(conn *websocket.Conn) {})

	other, _ := auth.NewSigner("wrong-secret", time.Hour)
	if _, err := NewFactory(endpoint, other, zap.NewNop()).Open(context.Background(), testInvite()); err == nil {
		t.Error("Expected dial failure with a foreign token")
	}

	invite := testInvite()
	invite.Platform = "teams"
	if _, err := NewFactory(endpoint, signer, zap.NewNop()).Open(context.Background(), invite); !errors.Is(err, domain.ErrUnsupportedPlatform) {
		t.Errorf("Expected unsupported platform, got %v", err)
	}
}
