package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var otpTemplate = template.Must(template.ParseFS(templateFS, "templates/otp.html"))

type otpView struct {
	Username string
	Intro    string
	Code     string
	Minutes  int
}

// Render returns the subject and HTML body of an OTP email.
func Render(msg OTPEmail) (string, string, error) {
	subject, intro := "Your Chatterbox code", "Use this code to continue."
	switch msg.Purpose {
	case PurposeVerifyEmail:
		subject, intro = "Verify your email", "Use this code to verify your email address."
	case PurposeResetPassword:
		subject, intro = "Reset your password", "Use this code to reset your password."
	case PurposeLogin:
		subject, intro = "Your sign-in code", "Use this code to sign in."
	}

	minutes := int(msg.ExpiresIn.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	var buf bytes.Buffer
	if err := otpTemplate.Execute(&buf, otpView{
		Username: msg.Username,
		Intro:    intro,
		Code:     msg.Code,
		Minutes:  minutes,
	}); err != nil {
		return "", "", fmt.Errorf("render otp email: %w", err)
	}
	return subject, buf.String(), nil
}
