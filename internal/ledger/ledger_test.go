package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/conversation"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/ids"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/unread"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	ledger   *Ledger
	registry *conversation.Registry
	tracker  *unread.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return newFixtureOn(gdb)
}

func newFixtureOn(gdb *gorm.DB) *fixture {
	return &fixture{
		db:       gdb,
		ledger:   New(gdb, 5*time.Second),
		registry: conversation.NewRegistry(gdb, 5*time.Second),
		tracker:  unread.NewTracker(gdb, 5*time.Second),
	}
}

func (f *fixture) direct(t *testing.T, a, b string) *models.Conversation {
	t.Helper()
	conv, err := f.registry.Create(context.Background(), models.TypeDirect, []string{a, b}, conversation.CreateOpts{CreatedBy: a})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	return conv
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<script>alert(1)</script>Hi", "Hi"},
		{"Hi", "Hi"},
		{"a<SCRIPT type=\"text/javascript\">x</ScRiPt>b", "ab"},
		{"<script>one</script>mid<script>two</script>", "mid"},
		{"<script>\nmulti\nline\n</script>ok", "ok"},
		{"<scr<script>x</script>ipt>evil()</script>", ""},
		{"<b>bold</b>", "<b>bold</b>"},
		{"<script>unterminated", "<script>unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Sanitize(got); again != got {
				t.Errorf("Sanitize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestCheckContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *chaterr.Code
	}{
		{"empty", "", chaterr.EmptyContent},
		{"blank", "  \n\t", chaterr.EmptyContent},
		{"at limit", strings.Repeat("a", MaxContentRunes), nil},
		{"over limit", strings.Repeat("a", MaxContentRunes+1), chaterr.ContentTooLong},
		{"multibyte at limit", strings.Repeat("é", MaxContentRunes), nil},
		{"multibyte over limit", strings.Repeat("é", MaxContentRunes+1), chaterr.ContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckContent(tt.content)
			if tt.want == nil {
				if err != nil {
					t.Errorf("CheckContent: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckContent = %v, want %s", err, tt.want.Name())
			}
		})
	}
}

func TestAppend_AssignsSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	for i := 1; i <= 3; i++ {
		msg, err := f.ledger.Append(ctx, conv.ID, alice, "hello")
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if msg.Sequence != uint64(i) {
			t.Errorf("Sequence = %d, want %d", msg.Sequence, i)
		}
	}

	got, err := f.registry.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSequence != 3 {
		t.Errorf("LastSequence = %d, want 3", got.LastSequence)
	}
}

func TestAppend_SanitizesOnWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	msg, err := f.ledger.Append(ctx, conv.ID, alice, "<script>alert(1)</script>Hi")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.Content != "Hi" {
		t.Errorf("Content = %q, want Hi", msg.Content)
	}

	history, err := f.ledger.History(ctx, conv.ID, bob, HistoryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "Hi" {
		t.Errorf("history = %+v, want one message with content Hi", history)
	}

	_, err = f.ledger.Append(ctx, conv.ID, alice, "<script>only()</script>")
	if !errors.Is(err, chaterr.EmptyContent) {
		t.Errorf("script-only content: err = %v, want EmptyContent", err)
	}
}

func TestAppend_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, mallory := ids.New(), ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	tests := []struct {
		name    string
		conv    string
		sender  string
		content string
		want    *chaterr.Code
	}{
		{"empty", conv.ID, alice, "", chaterr.EmptyContent},
		{"too long", conv.ID, alice, strings.Repeat("x", MaxContentRunes+1), chaterr.ContentTooLong},
		{"stranger", conv.ID, mallory, "hi", chaterr.AccessDenied},
		{"missing conversation", ids.New(), alice, "hi", chaterr.AccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Append(ctx, tt.conv, tt.sender, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %s", err, tt.want.Name())
			}
		})
	}
}

func TestAppend_Archived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	if _, err := f.ledger.Append(ctx, conv.ID, alice, "before"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Archive(ctx, conv.ID, alice); err != nil {
		t.Fatal(err)
	}

	_, err := f.ledger.Append(ctx, conv.ID, bob, "after")
	if !errors.Is(err, chaterr.ConversationArchived) {
		t.Fatalf("err = %v, want ConversationArchived", err)
	}

	history, err := f.ledger.History(ctx, conv.ID, bob, HistoryOpts{})
	if err != nil {
		t.Fatalf("History after archive: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}

func TestAppend_IncrementsUnreadExceptSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	if _, err := f.ledger.Append(ctx, conv.ID, alice, "Hello"); err != nil {
		t.Fatal(err)
	}

	if n, _ := f.tracker.Count(ctx, conv.ID, bob); n != 1 {
		t.Errorf("bob unread = %d, want 1", n)
	}
	if n, _ := f.tracker.Count(ctx, conv.ID, alice); n != 0 {
		t.Errorf("alice unread = %d, want 0", n)
	}
}

// SQLite runs on a single connection, so here the appends queue rather than
// race for the conversation lock. TestIntegration_AppendConcurrentTotalOrder
// runs the same check against MySQL.
func TestAppend_ConcurrentTotalOrder(t *testing.T) {
	checkConcurrentAppend(t, newFixture(t))
}

func checkConcurrentAppend(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Append(ctx, conv.ID, alice, "burst"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Append: %v", err)
	}

	history, err := f.ledger.History(ctx, conv.ID, alice, HistoryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != n {
		t.Fatalf("history length = %d, want %d", len(history), n)
	}
	for i, m := range history {
		if m.Sequence != uint64(i+1) {
			t.Errorf("history[%d].Sequence = %d, want %d", i, m.Sequence, i+1)
		}
		if i > 0 && m.ID <= history[i-1].ID {
			t.Errorf("history[%d].ID = %d not after %d", i, m.ID, history[i-1].ID)
		}
	}
	if count, _ := f.tracker.Count(ctx, conv.ID, bob); count != n {
		t.Errorf("bob unread = %d, want %d", count, n)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, mallory := ids.New(), ids.New(), ids.New()
	conv := f.direct(t, alice, bob)

	empty, err := f.ledger.History(ctx, conv.ID, alice, HistoryOpts{})
	if err != nil {
		t.Fatalf("History on empty conversation: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty history = %v, want empty non-nil slice", empty)
	}

	for _, body := range []string{"one", "two", "three", "four"} {
		if _, err := f.ledger.Append(ctx, conv.ID, bob, body); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.ledger.History(ctx, conv.ID, alice, HistoryOpts{AfterSequence: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Content != "two" || page[1].Content != "three" {
		t.Errorf("page = %+v, want two and three", page)
	}

	_, err = f.ledger.History(ctx, conv.ID, mallory, HistoryOpts{})
	if !errors.Is(err, chaterr.AccessDenied) {
		t.Errorf("stranger history: err = %v, want AccessDenied", err)
	}
}

func TestMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := ids.New(), ids.New()
	conv := f.direct(t, alice, bob)
	other := f.direct(t, alice, ids.New())

	msg, err := f.ledger.Append(ctx, conv.ID, alice, "hi")
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.ledger.Message(ctx, conv.ID, msg.ID)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got.Content != "hi" {
		t.Errorf("Content = %q", got.Content)
	}

	_, err = f.ledger.Message(ctx, other.ID, msg.ID)
	if !errors.Is(err, chaterr.MessageNotFound) {
		t.Errorf("message from another conversation: err = %v, want MessageNotFound", err)
	}
}
