package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		venues, err := app.FindCollectionByNameOrId("venues")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("counters")

		collection.Fields.Add(&core.RelationField{
			Name:          "venue",
			Required:      true,
			CollectionId:  venues.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		collection.Fields.Add(&core.TextField{
			Name:     "label",
			Required: true,
			Max:      100,
		})
		collection.Fields.Add(&core.BoolField{
			Name: "open",
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

		collection.ListRule = types.Pointer("venue.owner = @request.auth.id")
		collection.ViewRule = types.Pointer("venue.owner = @request.auth.id")
		collection.CreateRule = types.Pointer("venue.owner = @request.auth.id")
		collection.UpdateRule = types.Pointer("venue.owner = @request.auth.id")
		collection.DeleteRule = types.Pointer("venue.owner = @request.auth.id")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("counters")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
