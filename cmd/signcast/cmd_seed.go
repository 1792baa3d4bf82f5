/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/auth"
	"github.com/signcast/signcast/internal/db"
	"github.com/signcast/signcast/internal/models"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixtures.yaml>",
	Short: "Load organizations, slots, media lists and schedules from a fixture file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedFile struct {
	Organizations []seedOrganization `yaml:"organizations"`
}

type seedOrganization struct {
	Name       string          `yaml:"name"`
	Users      []seedUser      `yaml:"users"`
	Slots      []seedSlot      `yaml:"slots"`
	MediaLists []seedMediaList `yaml:"mediaLists"`
	Schedules  []seedSchedule  `yaml:"schedules"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type seedSlot struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

type seedMediaList struct {
	Name  string     `yaml:"name"`
	Loop  *bool      `yaml:"loop"`
	Items []seedItem `yaml:"items"`
}

type seedItem struct {
	Title           string `yaml:"title"`
	ContentType     string `yaml:"contentType"`
	URI             string `yaml:"uri"`
	DurationSeconds int    `yaml:"durationSeconds"`
}

type seedSchedule struct {
	Slot            string `yaml:"slot"`
	MediaList       string `yaml:"mediaList"`
	CronExpression  string `yaml:"cronExpression"`
	StartTime       string `yaml:"startTime"`
	EndTime         string `yaml:"endTime"`
	DaysOfWeek      string `yaml:"daysOfWeek"`
	DurationMinutes int    `yaml:"durationMinutes"`
	Timezone        string `yaml:"timezone"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read fixture file: %w", err)
	}

	var fixtures seedFile
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("parse fixture file: %w", err)
	}

	gormDB, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(gormDB) }()

	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	for _, orgSeed := range fixtures.Organizations {
		if err := seedOrganizationTree(gormDB, orgSeed); err != nil {
			return fmt.Errorf("seed organization %q: %w", orgSeed.Name, err)
		}
	}

	logger.Info().Int("organizations", len(fixtures.Organizations)).Msg("seed complete")
	return nil
}

func seedOrganizationTree(gormDB *gorm.DB, orgSeed seedOrganization) error {
	org := models.Organization{ID: uuid.NewString(), Name: orgSeed.Name}
	err := gormDB.Where("name = ?", orgSeed.Name).FirstOrCreate(&org).Error
	if err != nil {
		return fmt.Errorf("organization: %w", err)
	}

	for _, userSeed := range orgSeed.Users {
		hashed, err := auth.HashPassword(userSeed.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", userSeed.Email, err)
		}
		role := models.RoleName(userSeed.Role)
		if role == "" {
			role = models.RoleViewer
		}
		user := models.User{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Email:          userSeed.Email,
			Password:       hashed,
			Role:           role,
		}
		if err := gormDB.Where("email = ?", userSeed.Email).FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("user %s: %w", userSeed.Email, err)
		}
	}

	slotIDs := make(map[string]string)
	for _, slotSeed := range orgSeed.Slots {
		slot := models.DisplaySlot{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Name:           slotSeed.Name,
			Location:       slotSeed.Location,
		}
		err := gormDB.Where("organization_id = ? AND name = ?", org.ID, slotSeed.Name).
			FirstOrCreate(&slot).Error
		if err != nil {
			return fmt.Errorf("slot %s: %w", slotSeed.Name, err)
		}
		slotIDs[slotSeed.Name] = slot.ID
	}

	listIDs := make(map[string]string)
	for _, listSeed := range orgSeed.MediaLists {
		loop := true
		if listSeed.Loop != nil {
			loop = *listSeed.Loop
		}
		list := models.MediaList{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Name:           listSeed.Name,
			Loop:           loop,
		}
		for i, itemSeed := range listSeed.Items {
			list.Items = append(list.Items, models.MediaItem{
				ID:          uuid.NewString(),
				MediaListID: list.ID,
				Position:    i,
				Title:       itemSeed.Title,
				ContentType: itemSeed.ContentType,
				URI:         itemSeed.URI,
				Duration:    time.Duration(itemSeed.DurationSeconds) * time.Second,
			})
		}
		err := gormDB.Where("organization_id = ? AND name = ?", org.ID, listSeed.Name).
			FirstOrCreate(&list).Error
		if err != nil {
			return fmt.Errorf("media list %s: %w", listSeed.Name, err)
		}
		listIDs[listSeed.Name] = list.ID
	}

	for i, schedSeed := range orgSeed.Schedules {
		slotID, ok := slotIDs[schedSeed.Slot]
		if !ok {
			return fmt.Errorf("schedule %d references unknown slot %q", i, schedSeed.Slot)
		}
		listID, ok := listIDs[schedSeed.MediaList]
		if !ok {
			return fmt.Errorf("schedule %d references unknown media list %q", i, schedSeed.MediaList)
		}

		timezone := schedSeed.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		sched := models.Schedule{
			ID:              uuid.NewString(),
			OrganizationID:  org.ID,
			DisplaySlotID:   slotID,
			MediaListID:     listID,
			CronExpression:  schedSeed.CronExpression,
			StartTime:       schedSeed.StartTime,
			EndTime:         schedSeed.EndTime,
			DaysOfWeek:      schedSeed.DaysOfWeek,
			DurationMinutes: schedSeed.DurationMinutes,
			Timezone:        timezone,
			IsActive:        true,
		}
		err := gormDB.Where("organization_id = ? AND display_slot_id = ? AND media_list_id = ?", org.ID, slotID, listID).
			FirstOrCreate(&sched).Error
		if err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
	}

	return nil
}
