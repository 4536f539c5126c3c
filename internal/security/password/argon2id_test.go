package password

import "testing"

func TestHashAndVerify(t *testing.T) {
	phc, err := Hash(Default, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !Verify("correct horse battery staple", phc) {
		t.Fatal("expected verify to succeed")
	}
	if Verify("wrong password", phc) {
		t.Fatal("expected verify to fail for wrong password")
	}
}

func TestHashEmpty(t *testing.T) {
	if _, err := Hash(Default, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestVerifyMalformed(t *testing.T) {
	for _, phc := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$ZGs",
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdA$ZGs",
		"$argon2id$v=19$m=65536,t=3,p=1$!!!$ZGs",
	} {
		if Verify("anything", phc) {
			t.Errorf("verify accepted malformed hash %q", phc)
		}
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, _ := Hash(Default, "same input")
	b, _ := Hash(Default, "same input")
	if a == b {
		t.Fatal("two hashes of the same input must differ")
	}
}
