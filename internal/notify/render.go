package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"prize_wheel/internal/model"

	"github.com/google/uuid"
)

// Settings 邮件里使用的站点信息。
type Settings struct {
	AppName    string
	AppURL     string
	AdminEmail string
}

// renderHTML wraps plain text in the branded layout. The body is HTML-escaped
// and newlines become <br>.
func renderHTML(appName, subject, body string) string {
	escaped := strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
	safeSubject := html.EscapeString(subject)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <title>%s</title>
  <style type="text/css">
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; background-color: #0a1128; color: #fff; }
    .header { text-align: center; padding: 20px 0; }
    .content { padding: 20px; }
    .footer { text-align: center; font-size: 12px; color: #9ca3af; padding-top: 20px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h1>%s</h1></div>
    <div class="content">%s</div>
    <div class="footer">&copy; %d %s</div>
  </div>
</body>
</html>`, safeSubject, safeSubject, escaped, time.Now().Year(), html.EscapeString(appName))
}

func newMessage(s Settings, kind Kind, to, toName, subject, body string) Message {
	return Message{
		ID:      uuid.New().String(),
		Kind:    kind,
		To:      to,
		ToName:  toName,
		Subject: subject,
		Text:    body,
		HTML:    renderHTML(s.AppName, subject, body),
	}
}

// WinnerMessageID 由中奖记录的 request_id 与邮件类型派生出稳定的通知 ID，
// 管理端据此查询投递状态，Kafka 重投时也按它去重。
func WinnerMessageID(requestID string, kind Kind) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("prize_wheel:winner:"+requestID+":"+string(kind))).String()
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// WinnerConfirmation 中奖确认邮件，发给持码人。
func WinnerConfirmation(s Settings, code model.Code, prize model.Prize, wonAt time.Time) Message {
	name := orDefault(code.Name, "Winner")
	subject := fmt.Sprintf("You won %s!", prize.Title)
	body := fmt.Sprintf(`Hi %s,

Congratulations! Your spin with code %s won:

%s
%s

Won at: %s

We will be in touch about delivery. Questions? Contact %s.

%s`,
		name, code.Code, prize.Title, orDefault(prize.Description, "Amazing prize"),
		wonAt.Format(time.RFC1123), orDefault(s.AdminEmail, "the organizers"), s.AppName)
	return newMessage(s, KindWinnerConfirmation, code.Email, code.Name, subject, body)
}

// AdminWinNotification 通知管理员有新的中奖。
func AdminWinNotification(s Settings, code model.Code, prize model.Prize, wonAt time.Time) Message {
	subject := fmt.Sprintf("New Prize Won - %s", prize.Title)
	body := fmt.Sprintf(`A prize was just won.

Prize: %s
Description: %s
Winner: %s
Email: %s
Code: %s
Won at: %s

Manage winners: %s/admin/winners`,
		prize.Title, orDefault(prize.Description, "Amazing prize"),
		orDefault(code.Name, "Unknown"), orDefault(code.Email, "Unknown"),
		code.Code, wonAt.Format(time.RFC1123), strings.TrimRight(s.AppURL, "/"))
	return newMessage(s, KindAdminWin, s.AdminEmail, s.AppName+" Admin", subject, body)
}

// CodeIssued 发码邮件。
func CodeIssued(s Settings, code model.Code) Message {
	subject := fmt.Sprintf("Your %s spin code", s.AppName)
	body := fmt.Sprintf(`Hi %s,

Thank you for your support! Here is your one-time spin code:

%s

Spin the wheel at %s

%s`,
		orDefault(code.Name, "there"), code.Code, s.AppURL, s.AppName)
	return newMessage(s, KindCodeIssued, code.Email, code.Name, subject, body)
}
