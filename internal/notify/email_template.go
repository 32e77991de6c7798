package notify

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Subject}}</title>
  <style>
    body {
      margin: 0;
      padding: 24px;
      background-color: #f3f4f6;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      color: #111827;
      line-height: 1.5;
    }

    .container {
      max-width: 640px;
      margin: 0 auto;
      background: #ffffff;
      border-radius: 8px;
      border: 1px solid #e5e7eb;
      overflow: hidden;
    }

    .header {
      padding: 20px 24px;
      background: linear-gradient(135deg, #1f3a4d 0%, #37393b 100%);
      color: #ffffff;
    }

    .count {
      font-size: 24px;
      font-weight: 700;
      margin-bottom: 4px;
    }

    .criteria {
      font-size: 15px;
      opacity: 0.9;
    }

    .section {
      padding: 16px 24px;
      border-top: 1px solid #f3f4f6;
    }

    .section-title {
      font-size: 11px;
      font-weight: 700;
      color: #6b7280;
      text-transform: uppercase;
      letter-spacing: 0.1em;
      margin-bottom: 12px;
    }

    .artifact {
      padding: 10px 0;
      border-bottom: 1px solid #f3f4f6;
      font-size: 14px;
    }

    .artifact-name {
      font-weight: 600;
    }

    .status {
      display: inline-block;
      margin-left: 6px;
      padding: 2px 6px;
      font-size: 10px;
      font-weight: 600;
      border-radius: 3px;
      text-transform: uppercase;
      letter-spacing: 0.03em;
      background: #fef3c7;
      color: #92400e;
    }

    .status.verified {
      background: #dcfce7;
      color: #166534;
    }

    .checksum {
      font-family: ui-monospace, Menlo, monospace;
      font-size: 11px;
      color: #6b7280;
      word-break: break-all;
    }

    .footer {
      padding: 16px 24px;
      font-size: 12px;
      color: #9ca3af;
      text-align: center;
      background: #f9fafb;
      border-top: 1px solid #f3f4f6;
    }

    a {
      color: #0b3d91;
      text-decoration: none;
    }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <div class="count">{{len .Artifacts}} new {{if eq (len .Artifacts) 1}}artifact{{else}}artifacts{{end}}</div>
      <div class="criteria">{{.Criteria}}</div>
    </div>

    <div class="section">
      <div class="section-title">Artifacts</div>
      {{range .Artifacts}}
      <div class="artifact">
        <a class="artifact-name" href="{{.URL}}" target="_blank" rel="noopener">{{.Name}}</a>
        <span class="status{{if .Verified}} verified{{end}}">{{.Status}}</span>
        <div>Listing page {{.Page}}</div>
        {{if .Checksum}}<div class="checksum">sha256 {{.Checksum}}</div>{{end}}
      </div>
      {{end}}
    </div>

    <div class="footer">
      Run {{.RunID}} finished {{.Finished}} after {{.Pages}} pages.
      Generated by <a href="https://github.com/shanehull/listscraper" target="_blank" rel="noopener">listscraper</a>
    </div>
  </div>
</body>
</html>`
