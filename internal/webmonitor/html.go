package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Street Safety Monitor</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">🛡️ Street Safety Monitor</div>
            <span class="badge badge-secondary" id="job-badge">Idle</span>
        </div>

        <div id="capability-banner" class="banner" hidden></div>

        <div class="grid">
            <div class="panel">
                <h2>Video Analysis</h2>
                <p class="panel-subtitle">Upload a recording to run person detection and motion analysis.</p>

                <form id="upload-form" class="upload">
                    <input type="file" id="video-input" name="video" accept=".mp4,.mov,.avi,.mkv,.webm,video/*">
                    <button type="submit" id="upload-btn">Analyze</button>
                </form>
                <div class="upload-status" id="upload-status"></div>

                <div class="video-frame">
                    <img id="stream" src="/stream" alt="Annotated video frames">
                </div>

                <div class="stat-row">
                    <span>People: <strong id="people">0</strong></span>
                    <span>Motion: <strong id="motion">0</strong></span>
                    <span>FPS: <strong id="fps">--</strong></span>
                    <span>Frame: <strong id="frame-index">0</strong></span>
                </div>
            </div>

            <div class="panel">
                <div class="panel-head">
                    <h2>Alerts</h2>
                    <div class="actions">
                        <label class="rtc-toggle" id="rtc-toggle-label" hidden>
                            <input type="checkbox" id="rtc-toggle"> WebRTC
                        </label>
                        <button type="button" id="reset-btn" class="secondary">Reset</button>
                    </div>
                </div>

                <div class="stat-grid">
                    <div class="stat">
                        <span class="stat-label">Detections</span>
                        <span class="stat-value" id="detections">0</span>
                    </div>
                    <div class="stat critical">
                        <span class="stat-label">Critical Alerts</span>
                        <span class="stat-value" id="critical">0</span>
                    </div>
                    <div class="stat medium">
                        <span class="stat-label">Medium Alerts</span>
                        <span class="stat-value" id="medium">0</span>
                    </div>
                </div>

                <ul class="feed" id="feed">
                    <li class="feed-empty">No alerts yet</li>
                </ul>
                <p class="footer-note" id="transport-note">Live updates: connecting...</p>
            </div>
        </div>
    </div>
    <script src="/assets/dashboard.js"></script>
</body>
</html>
`
