package auth

import (
	"testing"

	"github.com/breeze-rmm/rfbserver/internal/secmem"
)

func TestGenerateChallengeIsSixteenBytesAndVaries(t *testing.T) {
	p := NewPasswordChallenge(secmem.NewSecureString("hunter2"))
	a, err := p.GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	b, err := p.GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	if len(a) != ChallengeSize || len(b) != ChallengeSize {
		t.Fatalf("challenge length = %d/%d, want %d", len(a), len(b), ChallengeSize)
	}
	if a == b {
		t.Fatal("two challenges in a row were identical; rand source looks broken")
	}
}

func TestVerifyAcceptsCorrectResponse(t *testing.T) {
	p := NewPasswordChallenge(secmem.NewSecureString("hunter2"))
	challenge, err := p.GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	response, err := p.encrypt(challenge)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ok, err := p.Verify(challenge, response[:])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify rejected the correctly encrypted response")
	}
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	server := NewPasswordChallenge(secmem.NewSecureString("correct-horse"))
	attacker := NewPasswordChallenge(secmem.NewSecureString("wrong-guess"))

	challenge, err := server.GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	response, err := attacker.encrypt(challenge)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ok, err := server.Verify(challenge, response[:])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted a response encrypted with the wrong password")
	}
}

func TestVerifyRejectsWrongLengthResponse(t *testing.T) {
	p := NewPasswordChallenge(secmem.NewSecureString("hunter2"))
	challenge, _ := p.GenerateChallenge()
	if _, err := p.Verify(challenge, []byte{1, 2, 3}); err == nil {
		t.Fatal("Verify should reject a response that isn't 16 bytes")
	}
}

func TestDESKeyFromPasswordTruncatesAndPadsWithZero(t *testing.T) {
	short := desKeyFromPassword("ab")
	if len(short) != desKeySize {
		t.Fatalf("key length = %d, want %d", len(short), desKeySize)
	}
	for i := 2; i < desKeySize; i++ {
		if short[i] != 0 {
			t.Fatalf("byte %d = %#x, want zero padding past password length", i, short[i])
		}
	}

	long := desKeyFromPassword("way-too-long-password")
	if len(long) != desKeySize {
		t.Fatalf("key length = %d, want %d", len(long), desKeySize)
	}
}
