package utils

import (
	"fmt"
	"html"

	"atelier_back_end/internal/models"
)

// NotificationEmail rend le sujet et le HTML de l'e-mail associé à une notification.
func NotificationEmail(n models.Notification) (subject, body string) {
	icon := typeIcon(n.Type)
	subject = fmt.Sprintf("%s %s - Atelier", icon, n.Title)

	link := ""
	if n.RedirectHint != "" {
		link = fmt.Sprintf(`
                            <table role="presentation" style="width: 100%%; margin: 30px 0;">
                                <tr>
                                    <td style="text-align: center;">
                                        <a href="%s" style="display: inline-block; padding: 14px 32px; background-color: #667eea; color: #ffffff; text-decoration: none; border-radius: 6px; font-weight: 600; font-size: 15px;">
                                            Voir le détail
                                        </a>
                                    </td>
                                </tr>
                            </table>`, html.EscapeString(n.RedirectHint))
	}

	body = fmt.Sprintf(`
<!DOCTYPE html>
<html lang="fr">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f5f5f5;">
    <table role="presentation" style="width: 100%%; border-collapse: collapse; background-color: #f5f5f5;">
        <tr>
            <td style="padding: 40px 20px;">
                <table role="presentation" style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 12px; box-shadow: 0 4px 6px rgba(0,0,0,0.1);">
                    <tr>
                        <td style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 40px 30px; text-align: center; border-radius: 12px 12px 0 0;">
                            <h1 style="margin: 0; color: #ffffff; font-size: 26px; font-weight: 600;">%s %s</h1>
                        </td>
                    </tr>
                    <tr>
                        <td style="padding: 30px 30px 0 30px; text-align: center;">
                            <div style="display: inline-block; padding: 10px 22px; background-color: %s; color: #ffffff; border-radius: 25px; font-weight: 600; font-size: 13px; text-transform: uppercase;">
                                %s
                            </div>
                        </td>
                    </tr>
                    <tr>
                        <td style="padding: 30px;">
                            <p style="margin: 0 0 20px 0; color: #333333; font-size: 16px; line-height: 1.6;">%s</p>%s
                        </td>
                    </tr>
                    <tr>
                        <td style="padding: 30px; background-color: #f8f9fa; border-radius: 0 0 12px 12px; text-align: center;">
                            <p style="margin: 0; color: #999999; font-size: 12px;">
                                Cet email a été envoyé automatiquement, merci de ne pas y répondre.
                            </p>
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>
`, html.EscapeString(n.Title), icon, html.EscapeString(n.Title), priorityColor(n.Priority),
		priorityLabel(n.Priority), html.EscapeString(n.Message), link)
	return subject, body
}

func typeIcon(t models.NotificationType) string {
	switch t {
	case models.NotificationPaymentVerified:
		return "✅"
	case models.NotificationPaymentRejected:
		return "❌"
	case models.NotificationAccessRequest:
		return "🔑"
	case models.NotificationAdminAction:
		return "📣"
	default:
		return "📋"
	}
}

func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "#dc3545"
	case models.PriorityHigh:
		return "#fd7e14"
	case models.PriorityLow:
		return "#6c757d"
	default:
		return "#17a2b8"
	}
}

func priorityLabel(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "Urgent"
	case models.PriorityHigh:
		return "Important"
	case models.PriorityLow:
		return "Info"
	default:
		return "Mise à jour"
	}
}
