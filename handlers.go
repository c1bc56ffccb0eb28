package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kwv/incidentmap/heat"
)

// The feed is public read-only data; any origin may open a view.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(hub *heat.SnapshotHub, config *heat.Config) http.Handler {
	mux := http.NewServeMux()

	mapCfg, err := json.Marshal(config.Map)
	if err != nil {
		log.Printf("Error encoding map config: %v", err)
		mapCfg = []byte("{}")
	}

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := hub.Last()
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			HasSnapshot bool      `json:"hasSnapshot"`
			Records     int       `json:"records"`
			Views       int       `json:"views"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			HasSnapshot: ok,
			Records:     len(snap),
			Views:       hub.Subscribers(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Current snapshot as GeoJSON, same validation the live views get
	mux.HandleFunc("/features.json", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := hub.Last()
		if !ok {
			http.Error(w, "No snapshot received yet", http.StatusServiceUnavailable)
			return
		}

		fc := heat.ValidateSnapshot(snap)
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding feature collection: %v", err)
		}
	})

	// Prometheus metrics
	mux.Handle("/metrics", heat.MetricsHandler())

	// One websocket connection is one live map view: the browser runs the
	// basemap engine, the pipeline here drives it through the bridge.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		defer conn.Close()

		heat.ViewsActive.Inc()
		defer heat.ViewsActive.Dec()

		renderer := heat.NewRemoteRenderer(conn)
		pipeline := heat.NewPipeline(hub, renderer, config.FeedPath())
		pipeline.Start()
		defer pipeline.Close()

		log.Printf("[WS] view connected from %s", r.RemoteAddr)
		err = renderer.Run()
		if err != nil && !websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived) {
			log.Printf("[WS] view from %s: %v", r.RemoteAddr, err)
		}
		log.Printf("[WS] view disconnected from %s", r.RemoteAddr)
	})

	// Default route serves the map client page
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprintf(w, mapPage, mapCfg)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// mapPage is the browser side of the bridge protocol: it applies renderer
// ops coming over the websocket and reports ready and pointer events back.
// The single %s receives the JSON-encoded map config.
const mapPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>incidentmap</title>
<link rel="stylesheet" href="https://unpkg.com/maplibre-gl@3.6.2/dist/maplibre-gl.css">
<script src="https://unpkg.com/maplibre-gl@3.6.2/dist/maplibre-gl.js"></script>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100vw;height:100vh;overflow:hidden;background:#1a1a1a}
#map{width:100vw;height:100vh}
.incident-tooltip{font:12px/1.5 system-ui,sans-serif;max-width:240px}
.maplibregl-popup-content{padding:8px 10px}
</style>
</head>
<body>
<div id="map"></div>
<script>
var cfg = %s;

var map = new maplibregl.Map({
  container: 'map',
  style: cfg.styleUrl,
  center: cfg.center,
  zoom: cfg.zoom
});

var ws = null;
var overlays = {};
var bound = {};
var loaded = false;

function styleLayers() {
  return map.getStyle().layers.map(function (l) {
    var s = {id: l.id, type: l.type};
    if (l.layout && l.layout['text-field']) {
      s.layout = {'text-field': l.layout['text-field']};
    }
    return s;
  });
}

function send(msg) {
  if (ws && ws.readyState === WebSocket.OPEN) {
    ws.send(JSON.stringify(msg));
  }
}

function sendReady() {
  send({event: 'ready', layers: styleLayers()});
}

function hitFeatures(e) {
  return e.features.map(function (f) {
    return {type: 'Feature', id: f.id, geometry: f.geometry, properties: f.properties};
  });
}

function bindPointer(layer) {
  if (bound[layer]) { return; }
  var onMove = function (e) {
    map.getCanvas().style.cursor = 'pointer';
    send({event: 'pointermove', layer: layer, lngLat: [e.lngLat.lng, e.lngLat.lat], features: hitFeatures(e)});
  };
  var onLeave = function () {
    map.getCanvas().style.cursor = '';
    send({event: 'pointerleave', layer: layer});
  };
  map.on('mousemove', layer, onMove);
  map.on('mouseleave', layer, onLeave);
  bound[layer] = {move: onMove, leave: onLeave};
}

function unbindPointer(layer) {
  var b = bound[layer];
  if (!b) { return; }
  map.off('mousemove', layer, b.move);
  map.off('mouseleave', layer, b.leave);
  delete bound[layer];
}

function removeOverlays() {
  for (var id in overlays) {
    overlays[id].remove();
  }
  overlays = {};
}

function apply(op) {
  switch (op.op) {
  case 'addSource':
    if (map.getSource(op.id)) {
      map.getSource(op.id).setData(op.data);
    } else {
      map.addSource(op.id, {type: 'geojson', data: op.data});
    }
    break;
  case 'setData':
    var src = map.getSource(op.id);
    if (src) { src.setData(op.data); }
    break;
  case 'addLayer':
    if (map.getLayer(op.layer.id)) { break; }
    if (op.before) {
      map.addLayer(op.layer, op.before);
    } else {
      map.addLayer(op.layer);
    }
    break;
  case 'bindPointer':
    bindPointer(op.id);
    break;
  case 'unbindPointer':
    unbindPointer(op.id);
    break;
  case 'overlayShow':
    overlays[op.overlay] = new maplibregl.Popup({closeButton: false, closeOnClick: false, offset: 12})
      .setLngLat(op.lngLat)
      .setHTML(op.html)
      .addTo(map);
    break;
  case 'overlayUpdate':
    var p = overlays[op.overlay];
    if (!p) { break; }
    if (op.lngLat) { p.setLngLat(op.lngLat); }
    if (op.html) { p.setHTML(op.html); }
    break;
  case 'overlayRemove':
    var q = overlays[op.overlay];
    if (q) { q.remove(); delete overlays[op.overlay]; }
    break;
  }
}

function connect() {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  ws = new WebSocket(proto + location.host + '/ws');
  ws.onopen = function () {
    if (loaded) { sendReady(); }
  };
  ws.onmessage = function (e) {
    apply(JSON.parse(e.data));
  };
  ws.onclose = function () {
    removeOverlays();
    setTimeout(connect, 2000);
  };
}

map.on('load', function () {
  loaded = true;
  if (ws && ws.readyState === WebSocket.OPEN) {
    sendReady();
  }
});

connect();
</script>
</body>
</html>
`
