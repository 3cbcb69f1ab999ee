package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Argon2 {
	t.Helper()
	// Floor-level costs keep the test fast; production uses bigger numbers.
	hasher, err := NewArgon2(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := testHasher(t)

	digest, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$") {
		t.Fatalf("digest not PHC formatted: %q", digest)
	}

	if !hasher.Verify("correct horse battery staple", digest) {
		t.Fatal("correct password rejected")
	}
	if hasher.Verify("wrong password", digest) {
		t.Fatal("wrong password accepted")
	}
}

func TestHashIsSalted(t *testing.T) {
	hasher := testHasher(t)

	a, err := hasher.Hash("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := hasher.Hash("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two hashes of one password are identical")
	}
}

func TestHashEmptyPassword(t *testing.T) {
	if _, err := testHasher(t).Hash(""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	hasher := testHasher(t)

	malformed := []string{
		"",
		"plainly not a digest",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, digest := range malformed {
		if hasher.Verify("anything", digest) {
			t.Fatalf("malformed digest verified: %q", digest)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher(t)
	digest, err := weak.Hash("some password")
	if err != nil {
		t.Fatal(err)
	}

	if weak.NeedsRehash(digest) {
		t.Fatal("digest at current parameters flagged for rehash")
	}

	stronger, err := NewArgon2(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !stronger.NeedsRehash(digest) {
		t.Fatal("weaker digest not flagged after cost increase")
	}

	if !weak.NeedsRehash("garbage") {
		t.Fatal("malformed digest not flagged for rehash")
	}
}

func TestNewArgon2Validation(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8 * 1024, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range cases {
		if _, err := NewArgon2(cfg); err == nil {
			t.Errorf("case %d: invalid config accepted: %+v", i, cfg)
		}
	}
}
