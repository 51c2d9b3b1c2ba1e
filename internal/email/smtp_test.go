package email

import (
	"strings"
	"testing"
)

func TestCompose_plainText(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.test", From: "certs@example.net"})
	b, err := s.compose(Message{To: "o@example.com", Subject: "Hi", Text: "hello"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	msg := string(b)
	for _, want := range []string{"From: certs@example.net\r\n", "To: o@example.com\r\n", "Subject: Hi\r\n", "text/plain", "\r\n\r\nhello"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "multipart") {
		t.Error("plain message should not be multipart")
	}
}

func TestCompose_multipart(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.test", From: "certs@example.net"})
	b, err := s.compose(Message{To: "o@example.com", Subject: "Hi", Text: "hello", HTML: "<p>hello</p>"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	msg := string(b)
	if !strings.Contains(msg, "multipart/alternative") {
		t.Fatalf("expected multipart message:\n%s", msg)
	}
	if strings.Count(msg, "--sslgen-") != 3 {
		t.Errorf("expected two parts and a closing boundary:\n%s", msg)
	}
	if !strings.Contains(msg, "<p>hello</p>") {
		t.Error("html part missing")
	}
}

func TestNewSMTPSender_defaultPort(t *testing.T) {
	if s := NewSMTPSender(SMTPConfig{Host: "smtp.test"}); s.cfg.Port != 587 {
		t.Errorf("port: got %d, want 587", s.cfg.Port)
	}
}
