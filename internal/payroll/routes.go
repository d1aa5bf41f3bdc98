package payroll

import (
	"github.com/go-chi/chi/v5"

	"github.com/horizon-pm/horizon/internal/shared"
)

// MountRoutes registers the payroll cycle endpoints. Every operation passes
// the authorization gate before any cycle state is touched.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payroll-cycles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPayrollCycleView))
			r.Get("/", h.list)
			r.Get("/{id}", h.get)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPayrollCycleCreate))
			r.Post("/", h.create)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPayrollCycleProcess))
			r.Patch("/process/{id}", h.process)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPayrollCycleEdit))
			r.Patch("/{id}", h.update)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPayrollCycleDelete))
			r.Delete("/{id}", h.delete)
		})
	})
}
