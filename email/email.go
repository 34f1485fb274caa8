package email

import (
	"fmt"
	"net/smtp"
	"os"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     os.Getenv("SMTP_FROM"),
	}
}

// SendRegistrationCode mails the code that completes a two-step signup.
// The code stays valid for 24 hours.
func (e *EmailService) SendRegistrationCode(to, nickname, code string) error {
	subject := "Complete your registration - Recetario"
	body := fmt.Sprintf(`Hi %s!

Thanks for signing up to Recetario.

Use the following code to complete your registration:

    %s

The code is valid for 24 hours. If you did not sign up, ignore this email.

---
Recetario
`, nickname, code)

	return e.send(to, subject, body)
}

// SendPasswordResetCode mails a reset code valid for 30 minutes.
func (e *EmailService) SendPasswordResetCode(to, code string) error {
	subject := "Password reset - Recetario"
	body := fmt.Sprintf(`Hi!

Use the following code to reset your password:

    %s

The code is valid for 30 minutes. If you did not request a reset, ignore
this email.

---
Recetario
`, code)

	return e.send(to, subject, body)
}

func (e *EmailService) send(to, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
