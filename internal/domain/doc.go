// Package domain holds the value types shared by the campaign engine:
// campaigns and their A/B and schedule settings, per-recipient sends,
// tracking links and engagement events, suppression entries and the CRM
// context a message is rendered against.
//
// Nothing here touches a database or a request. Methods are limited to
// pure checks on the value itself (Campaign.HasABTest, CampaignSend.IsTerminal).
package domain
