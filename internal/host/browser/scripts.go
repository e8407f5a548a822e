package browser

import (
	"encoding/json"
	"fmt"
)

// Page scripts run through Runtime.evaluate. Parameters are passed as a
// JSON literal argument, never spliced into the source.

const resourcesScript = `performance.getEntriesByType('resource').map(e => e.name)`

const elementsScript = `Array.from(document.querySelectorAll('video')).map(v => ({
	src: v.getAttribute('src') ? v.src : '',
	currentSrc: v.currentSrc || '',
	sources: Array.from(v.querySelectorAll('source')).map(s => s.src).filter(Boolean),
	duration: isFinite(v.duration) ? v.duration : null,
	live: v.duration === Infinity,
}))`

const markerScript = `(function (markers) {
	return Array.from(document.querySelectorAll('body *')).some(el =>
		el.offsetWidth > 0 && markers.some(m => m && (el.innerText || '').includes(m)));
})(%s)`

const observerScript = `(function (name) {
	if (window.__hhObserver || typeof window[name] !== 'function' || !document.documentElement) return false;
	let pending = false;
	window.__hhObserver = new MutationObserver(() => {
		if (pending) return;
		pending = true;
		setTimeout(() => { pending = false; window[name]('dom'); }, 100);
	});
	window.__hhObserver.observe(document.documentElement, { childList: true, subtree: true });
	return true;
})(%s)`

const suppressScript = `(function (cfg) {
	let n = 0;
	(cfg.click || []).forEach(sel => document.querySelectorAll(sel).forEach(el => { el.click(); n++; }));
	(cfg.remove || []).forEach(sel => document.querySelectorAll(sel).forEach(el => { el.remove(); n++; }));
	const box = cfg.container ? document.querySelector(cfg.container) : null;
	if (box) {
		Array.from(box.children).forEach(child => {
			if (child.style.display === 'none') return;
			if ((cfg.paywall || []).some(sel => child.querySelector(sel))) { child.style.display = 'none'; n++; }
		});
	}
	if ((cfg.skipLabels || []).length) {
		const skip = Array.from(document.querySelectorAll('body *')).find(el =>
			el.offsetWidth > 0 && cfg.skipLabels.includes((el.innerText || '').trim()));
		if (skip) { skip.click(); n++; }
	}
	if (cfg.blockPause) {
		document.querySelectorAll('video').forEach(v => {
			if (!v.__hhPause) { v.__hhPause = true; v.pause = function () {}; n++; }
		});
	}
	return n;
})(%s)`

const attachScript = `(async function (cfg) {
	const fail = (kind, detail) => ({ ok: false, kind, detail });
	const video = document.querySelector(cfg.selector || 'video');
	if (!video) return fail('attach', 'no video element');

	document.querySelectorAll('video').forEach(v => { if (v !== video) { try { v.pause(); } catch (e) {} } });

	const measured = () => ({
		ok: true,
		duration: isFinite(video.duration) ? video.duration : null,
		live: video.duration === Infinity,
	});
	const timeout = resolve => setTimeout(() => resolve(fail('attach', 'timed out waiting for playback')), cfg.timeoutMs);

	if (video.canPlayType('application/vnd.apple.mpegurl') !== '') {
		return await new Promise(resolve => {
			video.addEventListener('loadedmetadata', () => { video.play().catch(() => {}); resolve(measured()); }, { once: true });
			video.addEventListener('error', () => {
				const code = video.error ? video.error.code : 0;
				resolve(code === 4 ? fail('unsupported', 'source not supported') : fail('attach', 'media error ' + code));
			}, { once: true });
			video.src = cfg.url;
			timeout(resolve);
		});
	}

	if (typeof window.Hls === 'undefined') {
		try {
			await new Promise((resolve, reject) => {
				const s = document.createElement('script');
				s.src = cfg.cdn;
				s.onload = resolve;
				s.onerror = reject;
				document.head.appendChild(s);
			});
		} catch (e) {
			return fail('decoder-unavailable', 'loading hls.js failed');
		}
	}
	if (typeof window.Hls === 'undefined') return fail('decoder-unavailable', 'hls.js did not register');
	if (!window.Hls.isSupported()) return fail('unsupported', 'hls.js is not supported by this browser');

	if (window.__hhHls) { try { window.__hhHls.destroy(); } catch (e) {} }
	const hls = new window.Hls();
	window.__hhHls = hls;

	return await new Promise(resolve => {
		hls.on(window.Hls.Events.MANIFEST_PARSED, () => {
			video.play().catch(() => {});
			if (video.readyState >= 1) resolve(measured());
			else video.addEventListener('loadedmetadata', () => resolve(measured()), { once: true });
		});
		hls.on(window.Hls.Events.ERROR, (event, data) => {
			if (!data.fatal) return;
			const kind = data.details === 'manifestIncompatibleCodecsError' ? 'unsupported' : 'attach';
			resolve(fail(kind, data.type + ': ' + data.details));
		});
		hls.loadSource(cfg.url);
		hls.attachMedia(video);
		timeout(resolve);
	});
})(%s)`

// withArg renders a script template with a JSON-encoded argument.
func withArg(tmpl string, arg any) (string, error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encoding script argument: %w", err)
	}
	return fmt.Sprintf(tmpl, data), nil
}
