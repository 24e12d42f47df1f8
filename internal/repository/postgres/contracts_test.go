package postgres

import (
	admindomain "github.com/agrimrv/backend/internal/domain/admin"
	anchordomain "github.com/agrimrv/backend/internal/domain/anchor"
	farmerdomain "github.com/agrimrv/backend/internal/domain/farmer"
	lenderdomain "github.com/agrimrv/backend/internal/domain/lender"
)

var (
	_ anchordomain.Store          = (*AnchorRepository)(nil)
	_ farmerdomain.Repository     = (*FarmerRepository)(nil)
	_ lenderdomain.Repository     = (*LenderRepository)(nil)
	_ admindomain.AuditRepository = (*AdminAuditRepository)(nil)
)
