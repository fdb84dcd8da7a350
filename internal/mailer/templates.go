package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

type message struct {
	Subject string
	Heading string
	Intro   string
	Code    string
	Expiry  string
	Outro   string
}

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8" /><title>{{.Subject}}</title></head>
<body style="margin:0;padding:0;background-color:#f5f5f5;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="padding:20px;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:12px;">
        <tr><td style="background-color:#008753;padding:30px;text-align:center;">
          <h1 style="color:#ffffff;margin:0;font-size:24px;">NYSC CDS Attendance Portal</h1>
        </td></tr>
        <tr><td style="padding:30px;color:#333333;">
          <h2 style="margin-top:0;color:#008753;">{{.Heading}}</h2>
          <p>{{.Intro}}</p>
          {{if .Code}}
          <div style="background-color:#f0f0f0;border:2px dashed #008753;border-radius:8px;padding:20px;text-align:center;margin:25px 0;">
            <div style="font-size:36px;font-weight:bold;color:#008753;letter-spacing:6px;">{{.Code}}</div>
            <p style="margin:10px 0 0 0;font-size:14px;color:#666666;">This code expires in {{.Expiry}}</p>
          </div>
          {{end}}
          <p>{{.Outro}}</p>
          <p style="margin-top:30px;">Best regards,<br><strong>NYSC CDS Team</strong></p>
        </td></tr>
        <tr><td style="background-color:#f8f8f8;padding:20px;text-align:center;font-size:12px;color:#777777;">
          <p style="margin:0;">National Youth Service Corps</p>
          <p style="margin:5px 0 0 0;">Community Development Service Portal</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

func compose(kind Kind, name, code string) (message, error) {
	heading := fmt.Sprintf("Hello %s,", name)
	switch kind {
	case KindVerification:
		return message{
			Subject: "Verify Your NYSC Account",
			Heading: heading,
			Intro:   "Please use the verification code below to complete your registration.",
			Code:    code,
			Expiry:  "15 minutes",
			Outro:   "If you did not create an account, please ignore this email.",
		}, nil
	case KindWelcome:
		return message{
			Subject: "Welcome to the NYSC CDS Portal",
			Heading: fmt.Sprintf("Welcome, %s!", name),
			Intro:   "Your email has been verified and your account is now active.",
			Outro:   "You can now sign in with your email or state code.",
		}, nil
	case KindTwoFactorCode:
		return message{
			Subject: "Your NYSC Sign-in Code",
			Heading: heading,
			Intro:   "Use the code below to finish signing in.",
			Code:    code,
			Expiry:  "5 minutes",
			Outro:   "If you did not try to sign in, change your password immediately.",
		}, nil
	case KindPasswordReset:
		return message{
			Subject: "Reset Your NYSC Password",
			Heading: heading,
			Intro:   "Use the code below to reset your password.",
			Code:    code,
			Expiry:  "60 minutes",
			Outro:   "If you did not request a password reset, you can ignore this email.",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown email kind %q", kind)
	}
}

func render(msg message) (string, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
