package keys

import "testing"

func TestGenAndParse(t *testing.T) {
	if got := GenMessageKey(42); got != "m:00000000000000000042" {
		t.Fatalf("unexpected message key %q", got)
	}
	k := GenPendingSeenKey("bob", "alice", 7)
	p, err := ParsePendingSeenKey(k)
	if err != nil {
		t.Fatalf("ParsePendingSeenKey: %v", err)
	}
	if p.Receiver != "bob" || p.Sender != "alice" || p.ID != 7 {
		t.Fatalf("unexpected parts %+v", p)
	}
	id, err := ParseTrailingID(GenConversationKey("a", "b", 99))
	if err != nil || id != 99 {
		t.Fatalf("ParseTrailingID = %d, %v", id, err)
	}
	u, partner, err := ParsePartnerKey(GenPartnerKey("a", "b"))
	if err != nil || u != "a" || partner != "b" {
		t.Fatalf("ParsePartnerKey = %q %q %v", u, partner, err)
	}
}

func TestPrefixesDoNotOverlap(t *testing.T) {
	// "al" must not match keys belonging to "alice"
	short := ConversationPrefix("al", "bob")
	long := GenConversationKey("alice", "bob", 1)
	if len(long) >= len(short) && long[:len(short)] == short {
		t.Fatalf("prefix %q matches foreign key %q", short, long)
	}
}

func TestUpperBound(t *testing.T) {
	if got := string(UpperBound("idx:c:a:")); got != "idx:c:a;" {
		t.Fatalf("unexpected upper bound %q", got)
	}
	ub := UpperBound(PendingDeliveredPrefix("bob"))
	k := GenPendingDeliveredKey("bob", 1<<62)
	if k >= string(ub) {
		t.Fatalf("key %q not below bound %q", k, ub)
	}
}
