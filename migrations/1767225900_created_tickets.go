package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		venues, err := app.FindCollectionByNameOrId("venues")
		if err != nil {
			return err
		}
		counters, err := app.FindCollectionByNameOrId("counters")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(&core.RelationField{
			Name:          "venue",
			Required:      true,
			CollectionId:  venues.Id,
			CascadeDelete: false,
			MaxSelect:     1,
		})
		collection.Fields.Add(&core.RelationField{
			Name:          "user",
			Required:      true,
			CollectionId:  users.Id,
			CascadeDelete: false,
			MaxSelect:     1,
		})
		collection.Fields.Add(&core.RelationField{
			Name:          "counter_used",
			CollectionId:  counters.Id,
			CascadeDelete: false,
			MaxSelect:     1,
		})
		collection.Fields.Add(&core.TextField{
			Name:     "token",
			Required: true,
			Max:      20,
		})
		collection.Fields.Add(&core.SelectField{
			Name:      "status",
			Required:  true,
			MaxSelect: 1,
			Values: []string{
				"waiting",
				"called",
				"serving",
				"completed",
				"cancelled",
			},
		})
		collection.Fields.Add(&core.DateField{
			Name:     "joined_at",
			Required: true,
		})
		collection.Fields.Add(&core.DateField{
			Name: "called_at",
		})
		collection.Fields.Add(&core.DateField{
			Name: "serving_at",
		})
		collection.Fields.Add(&core.DateField{
			Name: "completed_at",
		})
		collection.Fields.Add(&core.NumberField{
			Name:    "wait_minutes",
			OnlyInt: true,
		})
		collection.Fields.Add(&core.NumberField{
			Name:    "rating",
			OnlyInt: true,
		})
		collection.Fields.Add(&core.TextField{
			Name: "review",
			Max:  1000,
		})
		collection.Fields.Add(&core.AutodateField{
			Name:     "created",
			OnCreate: true,
		})
		collection.Fields.Add(&core.AutodateField{
			Name:     "updated",
			OnCreate: true,
			OnUpdate: true,
		})

		collection.AddIndex("idx_tickets_venue_status", false, "venue, status", "")

		collection.ListRule = types.Pointer("user = @request.auth.id || venue.owner = @request.auth.id")
		collection.ViewRule = types.Pointer("user = @request.auth.id || venue.owner = @request.auth.id")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
