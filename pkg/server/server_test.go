package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/crypto"
	"github.com/NicolasHaas/gavel/pkg/datastore"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/protocol"
	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// recorder is a Sender that keeps everything sent to it.
type recorder struct {
	mu     sync.Mutex
	msgs   []*pb.ControlMessage
	closed bool
}

func (r *recorder) Send(msg *pb.ControlMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.Notice != nil {
			out = append(out, m.Notice.Text)
		}
	}
	return out
}

func (r *recorder) said(substr string) bool {
	for _, n := range r.notices() {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) icTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.ICEvent != nil {
			out = append(out, m.ICEvent.Text)
		}
	}
	return out
}

func (r *recorder) areaStates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.AreaState != nil {
			n++
		}
	}
	return n
}

const modPassword = "objection"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := datastore.NewProviderFactory(filepath.Join(t.TempDir(), "gavel.db"))
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mod, err := NewModerator("alice", modPassword)
	if err != nil {
		t.Fatalf("NewModerator: %v", err)
	}
	file := &File{
		Areas: []AreaYAML{
			{Name: "Lobby", Abbreviation: "LOB"},
			{Name: "Courtroom", Abbreviation: "CR", EvidenceMode: "CM"},
		},
		Moderators: []ModeratorYAML{mod},
	}

	cfg := DefaultConfig()
	cfg.MetricsAddr = ""
	cfg.HelloTimeout = 2 * time.Second
	srv, err := New(cfg, Dependencies{Store: st, File: file})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func join(t *testing.T, srv *Server, name string, ipid int64, areaID int) (model.Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	sess, err := srv.sessions.Create(model.Session{
		IPID: ipid,
		HDID: "hd-" + name,
		Name: name,
	}, areaID, rec)
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return sess, rec
}

func current(t *testing.T, srv *Server, id model.SessionID) model.Session {
	t.Helper()
	sess, ok := srv.sessions.Get(id)
	if !ok {
		t.Fatalf("session %d is gone", id)
	}
	return sess
}

func TestSessionIDsAreReused(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	a, _ := join(t, srv, "a", 1, 0)
	b, _ := join(t, srv, "b", 2, 0)
	if _, ok := srv.sessions.Remove(a.ID); !ok {
		t.Fatal("Remove: session missing")
	}
	c, _ := join(t, srv, "c", 3, 0)

	got := []model.SessionID{a.ID, b.ID, c.ID}
	want := []model.SessionID{0, 1, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session IDs mismatch (-want +got):\n%s", diff)
	}
	if n := srv.sessions.CountIn(0); n != 2 {
		t.Errorf("CountIn(0) = %d, want 2", n)
	}
}

func TestInvitesDoNotSurviveDisconnect(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()

	cm, cmRec := join(t, srv, "gumshoe", 1, 1)
	guest, _ := join(t, srv, "guest", 2, 0)
	for _, line := range []string{"/cm", "/lock", "/invite " + strconv.Itoa(int(guest.ID))} {
		srv.dispatch(ctx, current(t, srv, cm.ID), line)
	}
	courtroom, err := srv.areas.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !courtroom.IsInvited(guest.ID) {
		t.Fatalf("guest was not invited; cm notices = %q", cmRec.notices())
	}

	if _, ok := srv.sessions.Remove(guest.ID); !ok {
		t.Fatal("Remove: guest missing")
	}
	intruder, _ := join(t, srv, "intruder", 3, 0)
	if intruder.ID != guest.ID {
		t.Fatalf("intruder ID = %d, want reused ID %d", intruder.ID, guest.ID)
	}
	if courtroom.IsInvited(intruder.ID) {
		t.Error("invite survived the disconnect")
	}
	if err := srv.sessions.Relocate(intruder.ID, 1); !errors.Is(err, area.ErrAreaLocked) {
		t.Errorf("Relocate into locked area: got %v, want ErrAreaLocked", err)
	}
}

func TestDispatchLoginAndBan(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()

	mod, modRec := join(t, srv, "alice", 10, 0)
	victim, victimRec := join(t, srv, "troll", 4242, 0)

	srv.dispatch(ctx, mod, "/login "+modPassword)
	mod = current(t, srv, mod.ID)
	if !mod.IsMod || mod.ModProfile != "alice" {
		t.Fatalf("after /login: IsMod=%v profile=%q", mod.IsMod, mod.ModProfile)
	}

	srv.dispatch(ctx, mod, `/ban 4242 "spamming the courtroom" 2 days`)
	if !victimRec.isClosed() {
		t.Error("banned session was not disconnected")
	}
	if _, ok := srv.sessions.Get(victim.ID); ok {
		t.Error("banned session still registered")
	}

	bans, err := srv.Ledger().FindByIPID(ctx, 4242)
	if err != nil {
		t.Fatalf("FindByIPID: %v", err)
	}
	if len(bans) != 1 || bans[0].Reason != "spamming the courtroom" {
		t.Fatalf("bans = %+v", bans)
	}
	if got := bans[0].UnbanAt.Sub(bans[0].BannedAt); got != 48*time.Hour {
		t.Errorf("ban length = %v, want 48h", got)
	}

	srv.dispatch(ctx, mod, "/bans")
	if !modRec.said("spamming the courtroom") {
		t.Errorf("/bans output missing the reason: %q", modRec.notices())
	}
	if got := srv.metrics.BanCount.Load(); got != 1 {
		t.Errorf("BanCount = %d, want 1", got)
	}
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()
	type tcase struct {
		text string
		want string
	}

	tests := map[string]tcase{
		"unknown command": {
			text: "/objection",
			want: "Invalid command /objection",
		},
		"unbalanced quotes": {
			text: `/ban 1 "unterminated`,
			want: "Could not parse the command",
		},
		"permission denied": {
			text: "/kick 1",
			want: "permission denied",
		},
		"usage on invalid argument": {
			text: "/area_kick",
			want: "Usage: /area_kick",
		},
		"bad lookup": {
			text: "/baninfo 1 nickname",
			want: "incorrect lookup type",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t)
			sess, rec := join(t, srv, "phoenix", 1, 0)
			srv.dispatch(context.Background(), sess, tc.text)
			if !rec.said(tc.want) {
				t.Errorf("reply %q does not contain %q", rec.notices(), tc.want)
			}
		})
	}
}

func TestDeniedCommandsAreCounted(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	sess, _ := join(t, srv, "phoenix", 1, 0)

	srv.dispatch(context.Background(), sess, "/mute 2")
	if got := srv.metrics.Denials.Load(); got != 1 {
		t.Errorf("Denials = %d, want 1", got)
	}
	if got := srv.metrics.Commands.Load(); got != 1 {
		t.Errorf("Commands = %d, want 1", got)
	}
}

func TestAreaCommandMovesAndNotifies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()

	phoenix, phoenixRec := join(t, srv, "phoenix", 1, 0)
	_, mayaRec := join(t, srv, "maya", 2, 0)
	_, judgeRec := join(t, srv, "judge", 3, 1)

	srv.dispatch(ctx, phoenix, "/area CR")

	if got := current(t, srv, phoenix.ID).AreaID; got != 1 {
		t.Fatalf("AreaID = %d, want 1", got)
	}
	if phoenixRec.areaStates() == 0 {
		t.Error("mover received no area state")
	}
	if !phoenixRec.said("Changed area to Courtroom.") {
		t.Errorf("mover notices = %q", phoenixRec.notices())
	}
	if !mayaRec.said("left the area") {
		t.Errorf("old area notices = %q", mayaRec.notices())
	}
	if !judgeRec.said("entered the area") {
		t.Errorf("new area notices = %q", judgeRec.notices())
	}

	phoenixRec.reset()
	srv.dispatch(ctx, current(t, srv, phoenix.ID), "/area")
	if !phoenixRec.said("1: Courtroom (CR) users: 2 [FREE] [*]") {
		t.Errorf("/area listing = %q", phoenixRec.notices())
	}
}

func TestICPipeline(t *testing.T) {
	t.Parallel()
	type tcase struct {
		speaker  func(*model.Session)
		listener func(*model.Session)
		want     []string // IC lines the listener receives
		dropped  int64
	}

	tests := map[string]tcase{
		"plain": {
			want: []string{"Hold it"},
		},
		"muted speaker": {
			speaker: func(s *model.Session) { s.Muted = true },
			dropped: 1,
		},
		"disemvowelled speaker": {
			speaker: func(s *model.Session) { s.Disemvowel = true },
			want:    []string{"Hld t"},
		},
		"blinded listener": {
			listener: func(s *model.Session) { s.Blinded = true },
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t)
			speaker, _ := join(t, srv, "phoenix", 1, 0)
			listener, rec := join(t, srv, "maya", 2, 0)
			if tc.speaker != nil {
				srv.sessions.Update(speaker.ID, tc.speaker)
			}
			if tc.listener != nil {
				srv.sessions.Update(listener.ID, tc.listener)
			}

			srv.handleIC(context.Background(), current(t, srv, speaker.ID), &pb.ICMessage{
				CharName: "Phoenix",
				Text:     "Hold it",
			})

			if diff := cmp.Diff(tc.want, rec.icTexts()); diff != "" {
				t.Errorf("IC lines mismatch (-want +got):\n%s", diff)
			}
			if got := srv.metrics.ICDropped.Load(); got != tc.dropped {
				t.Errorf("ICDropped = %d, want %d", got, tc.dropped)
			}
		})
	}
}

func TestICShakeKeepsWords(t *testing.T) {
	t.Parallel()
	got := strings.Fields(shakeWords("take that you fiend"))
	want := []string{"fiend", "take", "that", "you"}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("shaken words mismatch (-want +got):\n%s", diff)
	}
}

func TestICTestimonyRecordAndExamine(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()

	witness, _ := join(t, srv, "witness", 1, 0)
	_, rec := join(t, srv, "phoenix", 2, 0)
	a, err := srv.areas.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	engine := a.Testimony()
	if err := engine.Start("The Stolen Turnabout"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, line := range []string{"I saw him.", "He ran away."} {
		srv.handleIC(ctx, witness, &pb.ICMessage{CharName: "Witness", Text: line})
	}
	if got := srv.metrics.Statements.Load(); got != 2 {
		t.Errorf("Statements = %d, want 2", got)
	}
	if _, err := engine.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := engine.StartExamination(); err != nil {
		t.Fatalf("StartExamination: %v", err)
	}

	rec.reset()
	srv.handleIC(ctx, witness, &pb.ICMessage{Text: ">"})
	srv.handleIC(ctx, witness, &pb.ICMessage{Text: "=2"})
	want := []string{"I saw him.", "He ran away."}
	if diff := cmp.Diff(want, rec.icTexts()); diff != "" {
		t.Errorf("examination lines mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	srv.metrics.Observe("kick")
	srv.metrics.Observe("ooc_mute")

	type tcase struct {
		path string
		want string
	}

	tests := map[string]tcase{
		"prometheus": {path: "/metrics", want: "gavel_kicks_total 1"},
		"mutes":      {path: "/metrics", want: "gavel_mutes_total 1"},
		"json":       {path: "/stats", want: `"kick_count": 1`},
		"health":     {path: "/healthz", want: "ok"},
	}

	h := srv.MetricsHandler()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tc.want) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tc.want)
			}
		})
	}
}

func TestHandshakeAndBanScreen(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hello := func(t *testing.T) (net.Conn, *pb.ControlMessage) {
		t.Helper()
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		if err := protocol.WriteControlMessage(conn, &pb.ControlMessage{
			Hello: &pb.Hello{HDID: "hd-phoenix", Name: "phoenix"},
		}); err != nil {
			t.Fatalf("write hello: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		msg, err := protocol.ReadControlMessage(conn)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		return conn, msg
	}

	conn, msg := hello(t)
	if msg.Welcome == nil {
		t.Fatalf("expected welcome, got %+v", msg)
	}
	if diff := cmp.Diff("Lobby", msg.Welcome.Area.Name); diff != "" {
		t.Errorf("welcome area mismatch (-want +got):\n%s", diff)
	}
	if len(msg.Welcome.Areas) != 2 {
		t.Errorf("welcome lists %d areas, want 2", len(msg.Welcome.Areas))
	}

	ipid, err := crypto.IPID(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("IPID: %v", err)
	}
	if _, err := srv.Ledger().Ban(context.Background(), ledger.BanRequest{
		IPIDs:  []int64{ipid},
		Reason: "flooding",
		Issuer: model.Session{ID: model.NoSession, Name: "console"},
	}); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	_, msg = hello(t)
	if msg.Error == nil {
		t.Fatalf("expected error for banned client, got %+v", msg)
	}
	if msg.Error.Code != codeBanned || !strings.Contains(msg.Error.Message, "flooding") {
		t.Errorf("error = %+v", msg.Error)
	}
	if got := srv.metrics.RejectedBanned.Load(); got != 1 {
		t.Errorf("RejectedBanned = %d, want 1", got)
	}
}
