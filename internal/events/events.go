package events

import (
	"path"
	"strings"
)

const ManifestFile = "manifest.json"

// ObjectKeyer is implemented by every notification shape that names an object.
type ObjectKeyer interface {
	ObjectKey() string
}

// IsManifestKey reports whether the notified object is an inventory manifest.
func IsManifestKey(o ObjectKeyer) bool {
	return path.Base(o.ObjectKey()) == ManifestFile
}

func IsObjectCreatedName(eventName string) bool {
	return strings.HasPrefix(eventName, "ObjectCreated:") || eventName == "Object Created"
}
