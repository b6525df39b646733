package stubserver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryStoreRoomsAndTurns(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if _, err := st.CreateRoom(ctx, "r2", "second", base.Add(time.Minute)); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := st.CreateRoom(ctx, "r1", "first", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	list, err := st.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r1" || list[1].ID != "r2" {
		t.Fatalf("rooms = %+v, want creation order", list)
	}

	for i := 1; i <= 3; i++ {
		rec, err := st.AppendTurn(ctx, AppendTurnInput{
			RoomID:   "r1",
			Request:  fmt.Sprintf("q%d", i),
			Response: fmt.Sprintf("a%d", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		if rec.Seq != int64(i) {
			t.Fatalf("seq = %d, want %d", rec.Seq, i)
		}
	}

	hist, err := st.History(ctx, "r1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[0].Request != "q1" || hist[2].Response != "a3" {
		t.Fatalf("history = %+v", hist)
	}

	if _, err := st.History(ctx, "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	if _, err := st.AppendTurn(ctx, AppendTurnInput{RoomID: "nope"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestInMemoryStoreCreateRoomIdempotent(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	a, err := st.CreateRoom(ctx, "r1", "first", time.Time{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	b, err := st.CreateRoom(ctx, "r1", "renamed", time.Time{})
	if err != nil {
		t.Fatalf("CreateRoom again: %v", err)
	}
	if b.Title != a.Title {
		t.Fatalf("second create changed the room: %+v", b)
	}
}

func TestOTPServiceFlow(t *testing.T) {
	svc := NewOTPService(testLogger())
	now := time.Now().UTC()

	code, err := svc.IssueCode("+998901112233", now)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}

	if _, err := svc.Verify("+998901112233", "000000", now); !errors.Is(err, ErrCodeMismatch) {
		// A one-in-a-million collision with the random code is possible but
		// not worth guarding against here.
		t.Fatalf("wrong code: err = %v, want ErrCodeMismatch", err)
	}

	tok, err := svc.Verify("+998901112233", code, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !svc.ValidToken(tok) {
		t.Fatal("issued token not valid")
	}
	if svc.ValidToken("forged") {
		t.Fatal("forged token accepted")
	}

	// Codes are single use.
	if _, err := svc.Verify("+998901112233", code, now); !errors.Is(err, ErrNoCode) {
		t.Fatalf("reuse: err = %v, want ErrNoCode", err)
	}
}

func TestOTPServiceExpiry(t *testing.T) {
	svc := NewOTPService(testLogger())
	now := time.Now().UTC()

	code, err := svc.IssueCode("+998901112233", now)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if _, err := svc.Verify("+998901112233", code, now.Add(otpTTL+time.Second)); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("err = %v, want ErrCodeExpired", err)
	}
}
