package datastore

import (
	"context"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/retry"
)

// retryingClient retries read-only operations that fail with errdefs.ErrBackendUnavailable.
// Mutations (InsertTicket, RunPhase, InitializeData) go straight to the wrapped client.
type retryingClient struct {
	Client
	policy retry.Policy
}

// WithRetry decorates c with bounded retries for reads.
func WithRetry(c Client, policy retry.Policy) Client {
	if policy.Attempts <= 1 {
		return c
	}
	return &retryingClient{Client: c, policy: policy}
}

func read[T any](ctx context.Context, r *retryingClient, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, r.policy, errdefs.IsRetryable, fn)
}

func (r *retryingClient) GetAirportByID(ctx context.Context, id int64) (*model.Airport, error) {
	return read(ctx, r, func(ctx context.Context) (*model.Airport, error) { return r.Client.GetAirportByID(ctx, id) })
}

func (r *retryingClient) GetAirportByIATA(ctx context.Context, iata string) (*model.Airport, error) {
	return read(ctx, r, func(ctx context.Context) (*model.Airport, error) { return r.Client.GetAirportByIATA(ctx, iata) })
}

func (r *retryingClient) SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.Airport, error) { return r.Client.SearchAirports(ctx, q) })
}

func (r *retryingClient) GetAmenity(ctx context.Context, id int64) (*model.Amenity, error) {
	return read(ctx, r, func(ctx context.Context) (*model.Amenity, error) { return r.Client.GetAmenity(ctx, id) })
}

func (r *retryingClient) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.AmenityMatch, error) { return r.Client.AmenitiesSearch(ctx, q) })
}

func (r *retryingClient) GetFlight(ctx context.Context, id int64) (*model.Flight, error) {
	return read(ctx, r, func(ctx context.Context) (*model.Flight, error) { return r.Client.GetFlight(ctx, id) })
}

func (r *retryingClient) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.Flight, error) {
		return r.Client.SearchFlightsByNumber(ctx, airline, number)
	})
}

func (r *retryingClient) SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.Flight, error) { return r.Client.SearchFlightsByAirports(ctx, q) })
}

func (r *retryingClient) ValidateTicket(ctx context.Context, check model.TicketCheck) (*model.Flight, error) {
	return read(ctx, r, func(ctx context.Context) (*model.Flight, error) { return r.Client.ValidateTicket(ctx, check) })
}

func (r *retryingClient) ListTickets(ctx context.Context, userID string) ([]model.Ticket, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.Ticket, error) { return r.Client.ListTickets(ctx, userID) })
}

func (r *retryingClient) PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error) {
	return read(ctx, r, func(ctx context.Context) ([]model.PolicyMatch, error) { return r.Client.PoliciesSearch(ctx, q) })
}

func (r *retryingClient) ExportData(ctx context.Context) (model.Dataset, error) {
	return read(ctx, r, r.Client.ExportData)
}

func (r *retryingClient) Counts(ctx context.Context) (model.Counts, error) {
	return read(ctx, r, r.Client.Counts)
}
