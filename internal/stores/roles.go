package stores

import "github.com/xelth-com/stocksyncgo/internal/models"

// SyncAllowed applies the role matrix to a directed store pair.
// Primary-primary and secondary-secondary are refused, every other
// combination is allowed. Self pairing is permitted for cloned stores.
func SyncAllowed(source, target *models.Store, allowAll bool) bool {
	if allowAll {
		return true
	}
	if source == nil || target == nil {
		return false
	}
	if source.ID == target.ID {
		return true
	}
	if source.SyncRole == models.RoleBidirectional || target.SyncRole == models.RoleBidirectional {
		return true
	}
	return source.SyncRole != target.SyncRole
}
