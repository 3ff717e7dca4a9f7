package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>People Counter</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 720px; margin: 0 auto; padding: 24px; }
        .count { font-size: 96px; font-weight: bold; text-align: center; }
        .status { font-size: 20px; text-align: center; color: #9cf; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 16px; margin-top: 16px; }
        .muted { color: #888; font-size: 13px; }
        video { width: 100%; border-radius: 6px; display: none; }
        button { padding: 8px 16px; }
        pre { white-space: pre-wrap; font-size: 12px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="count" id="count">-</div>
        <div class="status" id="status">Waiting for camera...</div>

        <div class="panel">
            <div>Last action: <span id="last-action">none</span></div>
            <div class="muted">History: <span id="history">[]</span></div>
            <div class="muted">Candidate: <span id="candidate">-</span> (run <span id="run">0</span>)</div>
        </div>

        <div class="panel">
            <button type="button" id="btn-publish">Publish this camera</button>
            <span class="muted" id="publish-state"></span>
            <video id="preview" autoplay playsinline muted></video>
        </div>

        <div class="panel">
            <pre id="metrics"></pre>
        </div>
    </div>

    <script>
    (function () {
        const $ = (id) => document.getElementById(id);

        function render(st) {
            $('count').textContent = st.stable_count;
            $('status').textContent = st.status;
            $('history').textContent = JSON.stringify(st.history || []);
            if (st.announcer) {
                $('last-action').textContent = st.announcer.last_action || 'none';
                $('candidate').textContent = st.announcer.trigger.candidate_count;
                $('run').textContent = st.announcer.trigger.stability_run;
            }
            if (st.metrics) {
                $('metrics').textContent = JSON.stringify(st.metrics, null, 2);
            }
        }

        const events = new EventSource('/api/status/stream');
        events.onmessage = (ev) => render(JSON.parse(ev.data));

        $('btn-publish').onclick = async () => {
            $('btn-publish').disabled = true;
            try {
                const stream = await navigator.mediaDevices.getUserMedia({ video: true, audio: false });
                $('preview').srcObject = stream;
                $('preview').style.display = 'block';

                const pc = new RTCPeerConnection({ iceServers: [{ urls: 'stun:stun.l.google.com:19302' }] });
                stream.getTracks().forEach((t) => {
                    const tr = pc.addTransceiver(t, { direction: 'sendonly' });
                    const caps = RTCRtpSender.getCapabilities('video');
                    if (caps && tr.setCodecPreferences) {
                        tr.setCodecPreferences(caps.codecs.filter((c) => c.mimeType === 'video/H264'));
                    }
                });
                pc.onconnectionstatechange = () => { $('publish-state').textContent = pc.connectionState; };

                await pc.setLocalDescription(await pc.createOffer());
                await new Promise((resolve) => {
                    if (pc.iceGatheringState === 'complete') return resolve();
                    pc.onicegatheringstatechange = () => { if (pc.iceGatheringState === 'complete') resolve(); };
                });

                const resp = await fetch('/api/webrtc/offer', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify(pc.localDescription),
                });
                if (!resp.ok) throw new Error((await resp.json()).error || resp.statusText);
                await pc.setRemoteDescription(await resp.json());
            } catch (err) {
                $('publish-state').textContent = 'error: ' + err.message;
                $('btn-publish').disabled = false;
            }
        };
    })();
    </script>
</body>
</html>
`
