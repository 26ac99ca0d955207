package mailer

import "fmt"

type verifyText struct {
	subject string
	body    string
}

var verifyTexts = map[string]verifyText{
	"fi": {
		subject: "Vahvista sähköpostiosoitteesi",
		body:    "Hei %s,\n\nvahvista tilisi koodilla:\n\n%s\n",
	},
	"en": {
		subject: "Verify your email address",
		body:    "Hi %s,\n\nverify your account with the code:\n\n%s\n",
	},
}

// VerificationMessage renders the account verification mail. Unknown
// languages fall back to English.
func VerificationMessage(to, username, verifier, lang string) Message {
	text, ok := verifyTexts[lang]
	if !ok {
		text = verifyTexts["en"]
		lang = "en"
	}
	return Message{
		To:      to,
		Subject: text.subject,
		Body:    fmt.Sprintf(text.body, username, verifier),
		Lang:    lang,
	}
}
