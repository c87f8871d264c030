package email

const (
	reportHTMLTemplate = `<!DOCTYPE html>
<html dir="ltr" lang="en">
  <head>
    <meta content="text/html; charset=UTF-8" http-equiv="Content-Type" />
  </head>
  <body style='background-color:#ffffff;font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif'>
    <table align="center" width="100%" border="0" cellpadding="0" cellspacing="0" role="presentation" style="max-width:37.5em;margin:0 auto;padding:20px 0 48px">
      <tbody>
        <tr style="width:100%">
          <td>
            <h2>Token printer report for {{.Date}}</h2>
            <p style="font-size:16px;line-height:26px;margin:16px 0">
              Transfers in the last 24 hours: <b>{{.RecentTransfers}}</b><br />
              Transfers in total: <b>{{.NumTransfers}}</b><br />
              Minimum difficulty: <b>{{.MinDifficulty}}</b> bits<br />
              Transfer amount: <b>{{.TransferAmount}}</b>
            </p>
            {{if .Hourly}}
            <table border="1" cellpadding="4" cellspacing="0" style="border-collapse:collapse">
              <tr><th>Hour (UTC)</th><th>Transfers</th></tr>
              {{range .Hourly}}<tr><td>{{.Timestamp.Format "2006-01-02 15:04"}}</td><td>{{.Count}}</td></tr>
              {{end}}
            </table>
            {{end}}
          </td>
        </tr>
      </tbody>
    </table>
  </body>
</html>`

	reportTextTemplate = `
Token printer report for {{.Date}}

Transfers in the last 24 hours: {{.RecentTransfers}}
Transfers in total: {{.NumTransfers}}
Minimum difficulty: {{.MinDifficulty}} bits
Transfer amount: {{.TransferAmount}}
{{range .Hourly}}
{{.Timestamp.Format "2006-01-02 15:04"}}  {{.Count}}{{end}}
`
)
