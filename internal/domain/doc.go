// Package domain models hazard reports and the incident cards built from them.
//
// # Data Sources
//
// Hazard reports arrive as JSON from upstream feed collectors (USGS earthquake
// summaries, NWS alerts, NHC storm advisories, NASA FIRMS fire detections) on
// the Kafka source topic, or synchronously over HTTP. Each report carries an
// optional GeoJSON footprint: a bare geometry, a Feature, a FeatureCollection,
// or a GeometryCollection.
//
// # Conventions
//
// Hazard types are normalized to a small vocabulary:
//
//	seismic   earthquake, quake, USGS.Quake
//	weather   alert, storm, NWS.Alert
//	tropical  hurricane, cyclone, tropical_storm, NHC.Storm
//	wildfire  fire, NASA.FIRMS
//
// Anything else is "unknown". Severity is one of unknown, minor, moderate,
// severe, extreme. USGS magnitudes map to severity as:
//
//	>=7 extreme | >=6 severe | >=5 moderate | >=4 minor | otherwise unknown
//
// Magnitude for seismic reports comes from the report's magnitude field, then
// from an "M6.1" / "M 6.1" / "Magnitude 6.1" token in the title or description,
// then [DefaultMagnitude].
//
// # Incident Cards
//
// Every enrichment field on an [IncidentCard] is an [Outcome]: the value plus
// a status telling consumers whether it is authoritative ("ok"), built from a
// subset of the inputs ("partial"), taken from a secondary source
// ("fallback"), or a documented default because its source failed
// ("default"). A card is always produced unless the incident geometry itself
// is invalid.
package domain
